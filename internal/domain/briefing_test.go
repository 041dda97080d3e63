package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBriefingQuorum(t *testing.T) {
	b := &Briefing{
		Personas: []PersonaSpec{{Key: "a"}, {Key: "b"}, {Key: "c"}},
	}

	// 0 означает "все personas"
	b.RequiredForSynthesis = 0
	if got := b.Quorum(); got != 3 {
		t.Errorf("quorum with 0: got %d, want 3", got)
	}

	b.RequiredForSynthesis = 2
	if got := b.Quorum(); got != 2 {
		t.Errorf("quorum: got %d, want 2", got)
	}

	// Больше числа personas — clamp к максимуму
	b.RequiredForSynthesis = 10
	if got := b.Quorum(); got != 3 {
		t.Errorf("quorum above persona count: got %d, want 3", got)
	}
}

func TestBriefingEnabledPersonas(t *testing.T) {
	b := &Briefing{
		Personas: []PersonaSpec{
			{Key: "analyst"},
			{Key: "skeptic", Disabled: true},
			{Key: "historian"},
		},
	}

	enabled := b.EnabledPersonas()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled personas, got %d", len(enabled))
	}
	if enabled[0].Key != "analyst" || enabled[1].Key != "historian" {
		t.Errorf("unexpected enabled personas: %v", enabled)
	}
}

func TestExecutionFingerprintDeterministic(t *testing.T) {
	id := uuid.New()

	fp1 := ExecutionFingerprint(id, 3, "sched_1700000000")
	fp2 := ExecutionFingerprint(id, 3, "sched_1700000000")
	if fp1 != fp2 {
		t.Error("same inputs should produce same fingerprint")
	}

	if ExecutionFingerprint(id, 4, "sched_1700000000") == fp1 {
		t.Error("different plan version should change fingerprint")
	}
	if ExecutionFingerprint(id, 3, "sched_1700000060") == fp1 {
		t.Error("different trigger should change fingerprint")
	}
	if ExecutionFingerprint(uuid.New(), 3, "sched_1700000000") == fp1 {
		t.Error("different briefing should change fingerprint")
	}
}

func TestEventCursorCovers(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cursor := EventCursor{OccurredAt: base, SequenceID: 10}

	tests := []struct {
		name    string
		event   RunEvent
		covered bool
	}{
		{"earlier time", RunEvent{OccurredAt: base.Add(-time.Second), SequenceID: 99}, true},
		{"same time lower seq", RunEvent{OccurredAt: base, SequenceID: 9}, true},
		{"same time same seq", RunEvent{OccurredAt: base, SequenceID: 10}, true},
		{"same time higher seq", RunEvent{OccurredAt: base, SequenceID: 11}, false},
		{"later time", RunEvent{OccurredAt: base.Add(time.Second), SequenceID: 1}, false},
	}

	for _, tt := range tests {
		if got := cursor.Covers(&tt.event); got != tt.covered {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.covered)
		}
	}
}
