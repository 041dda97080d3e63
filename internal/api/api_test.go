package api

import (
	"testing"
	"time"

	"github.com/shaiso/Dossier/internal/domain"
)

func TestEventCursorRoundTrip(t *testing.T) {
	cursor := &domain.EventCursor{
		OccurredAt: time.Date(2026, 8, 1, 12, 0, 0, 123456000, time.UTC),
		SequenceID: 42,
	}

	encoded := encodeEventCursor(cursor)
	if encoded == "" {
		t.Fatal("encoded cursor should not be empty")
	}

	decoded, err := decodeEventCursor(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.OccurredAt.Equal(cursor.OccurredAt) {
		t.Errorf("occurred_at mismatch: got %v, want %v", decoded.OccurredAt, cursor.OccurredAt)
	}
	if decoded.SequenceID != cursor.SequenceID {
		t.Errorf("sequence_id mismatch: got %d, want %d", decoded.SequenceID, cursor.SequenceID)
	}
}

func TestEventCursorEmpty(t *testing.T) {
	if encodeEventCursor(nil) != "" {
		t.Error("nil cursor should encode to empty string")
	}

	decoded, err := decodeEventCursor("")
	if err != nil {
		t.Fatalf("empty cursor should decode without error: %v", err)
	}
	if decoded != nil {
		t.Error("empty cursor should decode to nil")
	}
}

func TestEventCursorInvalid(t *testing.T) {
	if _, err := decodeEventCursor("!!not-base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := decodeEventCursor("bm90LWpzb24"); err == nil {
		t.Error("expected error for non-JSON payload")
	}
}

func TestValidatePersonas(t *testing.T) {
	if err := validatePersonas(nil); err == nil {
		t.Error("expected error for empty plan")
	}

	if err := validatePersonas([]domain.PersonaSpec{{Key: ""}}); err == nil {
		t.Error("expected error for empty persona key")
	}

	if err := validatePersonas([]domain.PersonaSpec{{Key: "a"}, {Key: "a"}}); err == nil {
		t.Error("expected error for duplicate persona key")
	}

	if err := validatePersonas([]domain.PersonaSpec{{Key: "a"}, {Key: "b"}}); err != nil {
		t.Errorf("valid plan should pass: %v", err)
	}
}
