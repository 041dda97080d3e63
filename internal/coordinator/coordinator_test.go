package coordinator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
)

func testState(t *testing.T, personas int, quorum int) *RunState {
	t.Helper()

	briefing := &domain.Briefing{
		ID:          uuid.New(),
		Name:        "morning-markets",
		PlanVersion: 1,
	}
	run := &domain.BriefingRun{
		ID:                   uuid.New(),
		BriefingID:           briefing.ID,
		Status:               domain.RunStatusRunning,
		TotalPersonas:        personas,
		RequiredForSynthesis: quorum,
	}

	state := NewRunState(run, briefing)
	subs := make([]domain.SubagentRun, 0, personas)
	for i := 0; i < personas; i++ {
		key := string(rune('a' + i))
		briefing.Personas = append(briefing.Personas, domain.PersonaSpec{Key: key})
		subs = append(subs, domain.SubagentRun{
			ID:         uuid.New(),
			RunID:      run.ID,
			PersonaKey: key,
			Status:     domain.SubagentStatusPending,
		})
	}
	state.Restore(subs)
	return state
}

func TestQuorumReached(t *testing.T) {
	// 5 personas, кворум 3, 2 упали — кворум всё ещё достижим и набирается
	state := testState(t, 5, 3)

	state.SetSubagentStatus("a", domain.SubagentStatusFailed)
	state.SetSubagentStatus("b", domain.SubagentStatusFailed)

	if state.QuorumReached() {
		t.Fatal("quorum should not be reached with zero success-like subagents")
	}
	if state.QuorumUnreachable() {
		t.Fatal("quorum should still be reachable: 3 subagents in flight")
	}

	state.SetSubagentStatus("c", domain.SubagentStatusSucceeded)
	state.SetSubagentStatus("d", domain.SubagentStatusSkippedNoOutput)

	if state.QuorumReached() {
		t.Fatal("quorum of 3 should not be reached with 2 success-like")
	}

	state.SetSubagentStatus("e", domain.SubagentStatusSucceeded)

	if !state.QuorumReached() {
		t.Fatal("quorum of 3 should be reached: SUCCEEDED + SKIPPED_NO_OUTPUT + SUCCEEDED")
	}
}

func TestQuorumUnreachable(t *testing.T) {
	// 5 personas, кворум 3: после 3 провалов максимум 2 success-like
	state := testState(t, 5, 3)

	state.SetSubagentStatus("a", domain.SubagentStatusFailed)
	state.SetSubagentStatus("b", domain.SubagentStatusCancelled)

	if state.QuorumUnreachable() {
		t.Fatal("2 failures out of 5 leave quorum of 3 reachable")
	}

	state.SetSubagentStatus("c", domain.SubagentStatusFailed)

	if !state.QuorumUnreachable() {
		t.Fatal("3 failures out of 5 make quorum of 3 unreachable")
	}
}

func TestSkippedCountsTowardQuorum(t *testing.T) {
	// SKIPPED (persona отключена) — терминальный, но не success-like
	state := testState(t, 3, 3)

	state.SetSubagentStatus("a", domain.SubagentStatusSkipped)

	if !state.QuorumUnreachable() {
		t.Fatal("SKIPPED subagent must not count toward quorum of 3/3")
	}
}

func TestSynthesisStartedOnce(t *testing.T) {
	state := testState(t, 2, 1)

	if !state.TryMarkSynthesisStarted() {
		t.Fatal("first TryMarkSynthesisStarted should succeed")
	}
	if state.TryMarkSynthesisStarted() {
		t.Fatal("second TryMarkSynthesisStarted should fail")
	}
	if !state.SynthesisStarted() {
		t.Fatal("SynthesisStarted should report true")
	}
}

func TestSynthesisFinishedSignal(t *testing.T) {
	state := testState(t, 1, 1)

	select {
	case <-state.SynthesisFinished():
		t.Fatal("synthesis finished channel closed prematurely")
	default:
	}

	state.MarkSynthesisFinished()
	state.MarkSynthesisFinished() // повторный вызов безопасен

	select {
	case <-state.SynthesisFinished():
	case <-time.After(time.Second):
		t.Fatal("synthesis finished channel should be closed")
	}
}

func TestRunStateStats(t *testing.T) {
	state := testState(t, 4, 2)

	state.SetSubagentStatus("a", domain.SubagentStatusSucceeded)
	state.SetSubagentStatus("b", domain.SubagentStatusFailed)
	state.SetSubagentStatus("c", domain.SubagentStatusRunning)

	stats := state.Stats()
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.SuccessLike != 1 {
		t.Errorf("SuccessLike = %d, want 1", stats.SuccessLike)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if stats.InFlight != 2 {
		t.Errorf("InFlight = %d, want 2", stats.InFlight)
	}
}

func TestPendingSubagents(t *testing.T) {
	state := testState(t, 3, 2)

	state.SetSubagentStatus("a", domain.SubagentStatusSucceeded)

	pending := state.PendingSubagents()
	if len(pending) != 2 {
		t.Fatalf("PendingSubagents returned %d ids, want 2", len(pending))
	}
}

func TestSubagentBackoff(t *testing.T) {
	initial := 15 * time.Second
	max := 5 * time.Minute

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 15 * time.Second},
		{2, 30 * time.Second},
		{3, time.Minute},
		{4, 2 * time.Minute},
		{5, 4 * time.Minute},
		{6, 5 * time.Minute}, // capped
	}

	for _, tt := range tests {
		if got := subagentBackoff(initial, max, tt.attempt); got != tt.want {
			t.Errorf("subagentBackoff(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBuildPersonaPromptWithoutDocs(t *testing.T) {
	briefing := &domain.Briefing{Name: "weekly-ai"}

	prompt := buildPersonaPrompt(briefing, nil)
	if !strings.Contains(prompt, "weekly-ai") {
		t.Error("prompt should mention the briefing name")
	}
	if !strings.Contains(prompt, "No source material") {
		t.Error("prompt should state that no material was ingested")
	}
}

func TestBuildSynthesisPrompt(t *testing.T) {
	briefing := &domain.Briefing{Name: "weekly-ai"}
	contribs := []contribution{
		{PersonaKey: "analyst", Output: "markets are up"},
		{PersonaKey: "skeptic", Output: "the rally is narrow"},
	}

	prompt := buildSynthesisPrompt(briefing, contribs)
	for _, want := range []string{"analyst", "skeptic", "markets are up", "the rally is narrow"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("synthesis prompt missing %q", want)
		}
	}
}

func TestCancelLocalRun(t *testing.T) {
	// Флаг CANCELLING приходит владельцу run через poll (БД), а не
	// только через MQ: отмена обязана дойти до контекста выполнения.
	c := &Coordinator{
		activeRuns: make(map[uuid.UUID]*RunState),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	state := testState(t, 2, 1)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	state.SetCancel(cancel)

	if err := c.addActiveRun(state); err != nil {
		t.Fatalf("addActiveRun: %v", err)
	}

	if !c.cancelLocalRun(state.RunID()) {
		t.Fatal("cancelLocalRun should report true for a locally active run")
	}
	select {
	case <-runCtx.Done():
	default:
		t.Fatal("run context should be cancelled after cancelLocalRun")
	}

	// Повторная отмена и чужой run — no-op
	if !c.cancelLocalRun(state.RunID()) {
		t.Error("repeated cancelLocalRun should still report true")
	}
	if c.cancelLocalRun(uuid.New()) {
		t.Error("cancelLocalRun should report false for an unknown run")
	}

	c.removeActiveRun(state.RunID())
	if c.cancelLocalRun(state.RunID()) {
		t.Error("cancelLocalRun should report false after the run is finalized")
	}
}
