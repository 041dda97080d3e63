package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/repo"
	"github.com/shaiso/Dossier/internal/telemetry"
)

// newEvent собирает событие run с новым idempotency key.
func newEvent(runID uuid.UUID, subID *uuid.UUID, typ domain.EventType, message string) *domain.RunEvent {
	return &domain.RunEvent{
		EventID:       uuid.New(),
		RunID:         runID,
		SubagentRunID: subID,
		Type:          typ,
		Message:       message,
		OccurredAt:    time.Now().UTC(),
	}
}

// appendEventTx пишет событие в той же транзакции, что и переход состояния.
func appendEventTx(ctx context.Context, tx pgx.Tx, events *repo.EventRepo, e *domain.RunEvent) error {
	inserted, err := events.AppendTx(ctx, tx, e)
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Type, err)
	}
	if inserted {
		telemetry.EventsAppended.Inc()
	}
	return nil
}
