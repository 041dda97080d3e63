package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Dossier/internal/ai"
	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/repo"
	"github.com/shaiso/Dossier/internal/telemetry"
)

// errUnknownPersona — subagent ссылается на persona, которой нет в плане.
// Возможен только при ручной порче данных; permanent.
var errUnknownPersona = errors.New("persona missing from briefing plan")

// executeSubagent ведёт один subagent до терминального статуса.
//
// ctx — для записей в БД, runCtx — для вызовов провайдера и проверки
// отмены. Разделение нужно, чтобы отменённый subagent мог записать
// свой переход в CANCELLED.
func (c *Coordinator) executeSubagent(ctx, runCtx context.Context, state *RunState, subID uuid.UUID) {
	runID := state.RunID()

	for {
		sub, err := c.subRepo.GetByID(ctx, subID)
		if err != nil {
			c.logger.Error("failed to load subagent", "run_id", runID, "subagent_id", subID, "error", err)
			return
		}
		logger := telemetry.WithPersona(telemetry.WithRunID(c.logger, runID.String()), sub.PersonaKey)

		if sub.Status.IsTerminal() {
			state.SetSubagentStatus(sub.PersonaKey, sub.Status)
			return
		}

		if runCtx.Err() != nil {
			c.cancelSubagent(ctx, state, sub)
			return
		}

		// RETRY_WAIT: ждём до next_attempt_at, наблюдая за отменой
		if sub.Status == domain.SubagentStatusRetryWait && sub.NextAttemptAt != nil {
			if wait := time.Until(*sub.NextAttemptAt); wait > 0 {
				select {
				case <-runCtx.Done():
					c.cancelSubagent(ctx, state, sub)
					return
				case <-time.After(wait):
				}
			}
		}

		// Захват: conditional update пройдёт ровно у одного экземпляра
		var claimed bool
		err = repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
			var txErr error
			sub, claimed, txErr = c.subRepo.TryStartTx(ctx, tx, subID, time.Now().UTC())
			if txErr != nil || !claimed {
				return txErr
			}
			return appendEventTx(ctx, tx, c.eventRepo,
				newEvent(runID, &subID, domain.EventSubagentStarted,
					fmt.Sprintf("persona %s attempt %d", sub.PersonaKey, sub.Attempt)))
		})
		if err != nil {
			logger.Error("failed to start subagent", "error", err)
			return
		}
		if !claimed {
			// Либо другой экземпляр выиграл гонку, либо run уже в
			// CANCELLING и guard в claim не пропустил старт — тогда
			// subagent нужно довести до CANCELLED здесь, повторного
			// захода в него не будет.
			if parent, gerr := c.runRepo.GetByID(ctx, runID); gerr == nil &&
				parent.Status == domain.RunStatusCancelling {
				if cur, serr := c.subRepo.GetByID(ctx, subID); serr == nil && !cur.Status.IsTerminal() {
					c.cancelSubagent(ctx, state, cur)
				}
				return
			}
			logger.Debug("lost subagent claim race")
			return
		}

		state.SetSubagentStatus(sub.PersonaKey, domain.SubagentStatusRunning)
		logger.Info("subagent started", "attempt", sub.Attempt)

		started := time.Now()
		output, execErr := c.runPersona(runCtx, state, sub)
		outcome := c.settleSubagent(ctx, runCtx, state, sub, output, execErr)
		telemetry.SubagentDuration.WithLabelValues(string(outcome)).Observe(time.Since(started).Seconds())

		if outcome != domain.SubagentStatusRetryWait {
			return
		}
	}
}

// settleSubagent записывает исход попытки: переход + событие одной
// транзакцией. Возвращает новый статус.
func (c *Coordinator) settleSubagent(ctx, runCtx context.Context, state *RunState, sub *domain.SubagentRun, output string, execErr error) domain.SubagentStatus {
	runID := state.RunID()
	now := time.Now().UTC()
	logger := telemetry.WithPersona(telemetry.WithRunID(c.logger, runID.String()), sub.PersonaKey)

	var (
		to      domain.SubagentStatus
		event   domain.EventType
		message string
		errMsg  string
		nextAt  *time.Time
	)

	switch {
	case execErr != nil && runCtx.Err() != nil:
		to, event = domain.SubagentStatusCancelled, domain.EventSubagentCancelled
		message = "cancelled mid-flight"

	case execErr == nil && output == "":
		to, event = domain.SubagentStatusSkippedNoOutput, domain.EventSubagentSkippedNoOutput
		message = "provider returned no output"

	case execErr == nil:
		to, event = domain.SubagentStatusSucceeded, domain.EventSubagentSucceeded
		message = fmt.Sprintf("contributed %d chars", len(output))

	case errors.Is(execErr, ai.ErrBadRequest) || errors.Is(execErr, errUnknownPersona):
		to, event = domain.SubagentStatusFailed, domain.EventSubagentFailed
		message, errMsg = "permanent failure", execErr.Error()

	case sub.CanRetry():
		t := now.Add(subagentBackoff(c.initialBackoff, c.maxBackoff, sub.Attempt))
		nextAt = &t
		to, event = domain.SubagentStatusRetryWait, domain.EventSubagentRetryWait
		message = fmt.Sprintf("attempt %d/%d failed, retry at %s", sub.Attempt, sub.MaxAttempts, t.Format(time.RFC3339))
		errMsg = execErr.Error()

	default:
		to, event = domain.SubagentStatusFailed, domain.EventSubagentFailed
		message = fmt.Sprintf("all %d attempts exhausted", sub.MaxAttempts)
		errMsg = execErr.Error()
	}

	err := repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
		if err := c.subRepo.TransitionTx(ctx, tx, sub.ID,
			domain.SubagentStatusRunning, to, output, errMsg, nextAt, now); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, c.eventRepo, newEvent(runID, &sub.ID, event, message))
	})
	if err != nil {
		logger.Error("failed to settle subagent", "to", to, "error", err)
		return sub.Status
	}

	state.SetSubagentStatus(sub.PersonaKey, to)
	logger.Info("subagent settled", "status", to, "attempt", sub.Attempt)
	return to
}

// cancelSubagent переводит незапущенный subagent в CANCELLED.
func (c *Coordinator) cancelSubagent(ctx context.Context, state *RunState, sub *domain.SubagentRun) {
	runID := state.RunID()
	now := time.Now().UTC()

	err := repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
		if err := c.subRepo.TransitionTx(ctx, tx, sub.ID,
			sub.Status, domain.SubagentStatusCancelled, "", "run cancelled", nil, now); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, c.eventRepo,
			newEvent(runID, &sub.ID, domain.EventSubagentCancelled, "cancelled before start"))
	})
	if err != nil {
		var invalid *domain.InvalidTransitionError
		if !errors.As(err, &invalid) {
			c.logger.Error("failed to cancel subagent",
				"run_id", runID, "persona_key", sub.PersonaKey, "error", err)
		}
		return
	}
	state.SetSubagentStatus(sub.PersonaKey, domain.SubagentStatusCancelled)
}

// runPersona выполняет один вызов провайдера для persona.
func (c *Coordinator) runPersona(runCtx context.Context, state *RunState, sub *domain.SubagentRun) (string, error) {
	var persona *domain.PersonaSpec
	for i := range state.Briefing.Personas {
		if state.Briefing.Personas[i].Key == sub.PersonaKey {
			persona = &state.Briefing.Personas[i]
			break
		}
	}
	if persona == nil {
		return "", fmt.Errorf("%w: %s", errUnknownPersona, sub.PersonaKey)
	}

	docs, err := c.docRepo.ListByBriefing(runCtx, state.Briefing.ID, c.docsPerPrompt)
	if err != nil {
		return "", fmt.Errorf("load documents: %w", err)
	}

	return c.completer.Complete(runCtx, ai.Request{
		Provider:     persona.Provider,
		Model:        persona.Model,
		SystemPrompt: persona.SystemPrompt,
		Prompt:       buildPersonaPrompt(state.Briefing, docs),
	})
}

// executeSynthesis сводит вклады success-like subagents в итоговый dossier.
//
// Старт — это conditional update NOT_STARTED -> RUNNING: при нескольких
// экземплярах synthesis поведёт ровно один.
func (c *Coordinator) executeSynthesis(ctx, runCtx context.Context, state *RunState) {
	runID := state.RunID()
	logger := telemetry.WithRunID(c.logger, runID.String())
	now := time.Now().UTC()

	err := repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
		if err := c.synthRepo.TransitionTx(ctx, tx, runID,
			domain.SynthesisStatusNotStarted, domain.SynthesisStatusRunning, "", "", now); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, c.eventRepo,
			newEvent(runID, nil, domain.EventSynthesisStarted, "quorum reached, synthesis started"))
	})
	if err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			logger.Debug("lost synthesis claim race")
		} else {
			logger.Error("failed to start synthesis", "error", err)
		}
		return
	}

	logger.Info("synthesis started")

	subs, err := c.subRepo.ListByRun(ctx, runID)
	if err != nil {
		c.settleSynthesis(ctx, state, "", fmt.Errorf("list subagents: %w", err))
		return
	}

	var contributions []contribution
	for i := range subs {
		if subs[i].Status == domain.SubagentStatusSucceeded && subs[i].Output != "" {
			contributions = append(contributions, contribution{
				PersonaKey: subs[i].PersonaKey,
				Output:     subs[i].Output,
			})
		}
	}

	output, execErr := c.completer.Complete(runCtx, ai.Request{
		SystemPrompt: synthesisSystemPrompt,
		Prompt:       buildSynthesisPrompt(state.Briefing, contributions),
	})
	c.settleSynthesis(ctx, state, output, execErr)
}

// settleSynthesis записывает исход synthesis.
func (c *Coordinator) settleSynthesis(ctx context.Context, state *RunState, output string, execErr error) {
	runID := state.RunID()
	logger := telemetry.WithRunID(c.logger, runID.String())
	now := time.Now().UTC()

	var (
		to      domain.SynthesisStatus
		event   domain.EventType
		message string
		errMsg  string
	)

	switch {
	case execErr != nil && (errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded)):
		to, event = domain.SynthesisStatusCancelled, domain.EventSynthesisCancelled
		message = "synthesis cancelled"

	case execErr != nil:
		to, event = domain.SynthesisStatusFailed, domain.EventSynthesisFailed
		message, errMsg = "synthesis failed", execErr.Error()

	case strings.TrimSpace(output) == "":
		to, event = domain.SynthesisStatusFailed, domain.EventSynthesisFailed
		message, errMsg = "synthesis failed", "provider returned empty dossier"

	default:
		to, event = domain.SynthesisStatusSucceeded, domain.EventSynthesisSucceeded
		message = fmt.Sprintf("dossier assembled: %d chars", len(output))
	}

	err := repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
		if err := c.synthRepo.TransitionTx(ctx, tx, runID,
			domain.SynthesisStatusRunning, to, output, errMsg, now); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, c.eventRepo, newEvent(runID, nil, event, message))
	})
	if err != nil {
		logger.Error("failed to settle synthesis", "to", to, "error", err)
		return
	}
	logger.Info("synthesis settled", "status", to)
}

// subagentBackoff — экспоненциальная задержка retry с потолком.
func subagentBackoff(initial, max time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}
