package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shaiso/Dossier/internal/ai"
	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/extract"
)

func TestBackoffDelayGrowth(t *testing.T) {
	initial := 30 * time.Second
	max := 15 * time.Minute

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 15 * time.Minute}, // capped
		{10, 15 * time.Minute},
	}

	for _, tt := range tests {
		got := backoffDelay(initial, max, tt.attempts)
		if got != tt.want {
			t.Errorf("backoffDelay(attempts=%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestBackoffDelayDefaults(t *testing.T) {
	// Нулевой initial не должен давать нулевую задержку
	if got := backoffDelay(0, 0, 0); got <= 0 {
		t.Errorf("backoffDelay(0, 0, 0) = %v, want positive", got)
	}

	// max меньше initial подтягивается до initial
	if got := backoffDelay(time.Minute, time.Second, 5); got != time.Minute {
		t.Errorf("backoffDelay with max < initial = %v, want %v", got, time.Minute)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"source rejected", fmt.Errorf("extract: %w", extract.ErrRejected), true},
		{"provider bad request", fmt.Errorf("complete: %w", ai.ErrBadRequest), true},
		{"bad payload", fmt.Errorf("%w: url is required", ErrBadPayload), true},
		{"source unavailable", fmt.Errorf("extract: %w", extract.ErrUnavailable), false},
		{"provider overloaded", fmt.Errorf("complete: %w", ai.ErrOverloaded), false},
		{"plain error", errors.New("connection reset"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPermanent(tt.err); got != tt.permanent {
				t.Errorf("isPermanent(%v) = %v, want %v", tt.err, got, tt.permanent)
			}
		})
	}
}

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, *domain.Job) error { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.QueueExtraction, noopExecutor{})

	if _, err := r.Get(domain.QueueExtraction); err != nil {
		t.Fatalf("Get(extraction) returned error: %v", err)
	}

	_, err := r.Get(domain.QueueIngestion)
	if !errors.Is(err, ErrUnknownQueue) {
		t.Errorf("Get(ingestion) error = %v, want ErrUnknownQueue", err)
	}
}

func TestWorkerConfigDefaults(t *testing.T) {
	w := New(Config{})

	if w.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", w.pollInterval, defaultPollInterval)
	}
	if w.batchSize != defaultBatchSize {
		t.Errorf("batchSize = %d, want %d", w.batchSize, defaultBatchSize)
	}
	if w.initialBackoff != defaultInitialBackoff {
		t.Errorf("initialBackoff = %v, want %v", w.initialBackoff, defaultInitialBackoff)
	}
	if w.owner == "" {
		t.Error("owner should be generated when not configured")
	}
	if w.IsStopped() {
		t.Error("new worker should not be stopped")
	}
}
