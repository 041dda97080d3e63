package domain

import (
	"strings"
	"testing"
)

// --- Transition table tests ---

func TestRunTransitions(t *testing.T) {
	tests := []struct {
		from    RunStatus
		to      RunStatus
		allowed bool
	}{
		{RunStatusQueued, RunStatusRunning, true},
		{RunStatusQueued, RunStatusCancelling, true},
		{RunStatusQueued, RunStatusSucceeded, false},
		{RunStatusRunning, RunStatusSucceeded, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusRunning, RunStatusCancelling, true},
		{RunStatusRunning, RunStatusCancelled, false},
		{RunStatusCancelling, RunStatusCancelled, true},
		{RunStatusCancelling, RunStatusSucceeded, false},
		{RunStatusSucceeded, RunStatusRunning, false},
		{RunStatusFailed, RunStatusQueued, false},
		{RunStatusCancelled, RunStatusCancelling, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.allowed {
			t.Errorf("run %s -> %s: got %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestSubagentTransitions(t *testing.T) {
	tests := []struct {
		from    SubagentStatus
		to      SubagentStatus
		allowed bool
	}{
		{SubagentStatusPending, SubagentStatusRunning, true},
		{SubagentStatusPending, SubagentStatusSkipped, true},
		{SubagentStatusPending, SubagentStatusCancelled, true},
		{SubagentStatusPending, SubagentStatusSucceeded, false},
		{SubagentStatusRunning, SubagentStatusSucceeded, true},
		{SubagentStatusRunning, SubagentStatusSkippedNoOutput, true},
		{SubagentStatusRunning, SubagentStatusRetryWait, true},
		{SubagentStatusRunning, SubagentStatusFailed, true},
		{SubagentStatusRunning, SubagentStatusCancelled, true},
		{SubagentStatusRunning, SubagentStatusPending, false},
		{SubagentStatusRetryWait, SubagentStatusRunning, true},
		{SubagentStatusRetryWait, SubagentStatusCancelled, true},
		{SubagentStatusRetryWait, SubagentStatusFailed, false},
		{SubagentStatusSucceeded, SubagentStatusRunning, false},
		{SubagentStatusFailed, SubagentStatusRetryWait, false},
		{SubagentStatusCancelled, SubagentStatusRunning, false},
		{SubagentStatusSkipped, SubagentStatusRunning, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.allowed {
			t.Errorf("subagent %s -> %s: got %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestSynthesisTransitions(t *testing.T) {
	tests := []struct {
		from    SynthesisStatus
		to      SynthesisStatus
		allowed bool
	}{
		{SynthesisStatusNotStarted, SynthesisStatusRunning, true},
		{SynthesisStatusNotStarted, SynthesisStatusSkipped, true},
		{SynthesisStatusNotStarted, SynthesisStatusCancelled, true},
		{SynthesisStatusNotStarted, SynthesisStatusSucceeded, false},
		{SynthesisStatusRunning, SynthesisStatusSucceeded, true},
		{SynthesisStatusRunning, SynthesisStatusFailed, true},
		{SynthesisStatusRunning, SynthesisStatusCancelled, true},
		{SynthesisStatusRunning, SynthesisStatusSkipped, false},
		{SynthesisStatusSucceeded, SynthesisStatusRunning, false},
		{SynthesisStatusSkipped, SynthesisStatusRunning, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.allowed {
			t.Errorf("synthesis %s -> %s: got %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

// --- Terminal / success-like sets ---

func TestRunStatusIsTerminal(t *testing.T) {
	terminal := []RunStatus{RunStatusSucceeded, RunStatusFailed, RunStatusCancelled}
	nonTerminal := []RunStatus{RunStatusQueued, RunStatusRunning, RunStatusCancelling}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSubagentStatusIsTerminal(t *testing.T) {
	terminal := []SubagentStatus{
		SubagentStatusSucceeded, SubagentStatusSkippedNoOutput,
		SubagentStatusSkipped, SubagentStatusFailed, SubagentStatusCancelled,
	}
	nonTerminal := []SubagentStatus{
		SubagentStatusPending, SubagentStatusRunning, SubagentStatusRetryWait,
	}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSubagentStatusIsSuccessLike(t *testing.T) {
	if !SubagentStatusSucceeded.IsSuccessLike() {
		t.Error("SUCCEEDED should be success-like")
	}
	if !SubagentStatusSkippedNoOutput.IsSuccessLike() {
		t.Error("SKIPPED_NO_OUTPUT should be success-like")
	}
	// SKIPPED — отключённая persona, вклада нет и не будет
	if SubagentStatusSkipped.IsSuccessLike() {
		t.Error("SKIPPED should not be success-like")
	}
	if SubagentStatusFailed.IsSuccessLike() {
		t.Error("FAILED should not be success-like")
	}
	if SubagentStatusCancelled.IsSuccessLike() {
		t.Error("CANCELLED should not be success-like")
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	if !JobStatusSucceeded.IsTerminal() || !JobStatusFailed.IsTerminal() {
		t.Error("SUCCEEDED and FAILED should be terminal")
	}
	if JobStatusPending.IsTerminal() || JobStatusProcessing.IsTerminal() || JobStatusRetry.IsTerminal() {
		t.Error("PENDING, PROCESSING and RETRY should not be terminal")
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{Entity: "run", From: "RUNNING", To: "QUEUED"}

	msg := err.Error()
	if !strings.Contains(msg, "run") || !strings.Contains(msg, "RUNNING") || !strings.Contains(msg, "QUEUED") {
		t.Errorf("error message should name entity and statuses, got %q", msg)
	}
}
