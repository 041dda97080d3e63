package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
	"github.com/shaiso/Dossier/internal/telemetry"
)

// handleRunApproved обрабатывает событие об одобренном run.
func (c *Coordinator) handleRunApproved(ctx context.Context, msg mq.Message) error {
	payload, err := mq.ParsePayload[mq.RunApprovedPayload](msg)
	if err != nil {
		c.logger.Error("failed to parse run.approved payload", "error", err)
		return err
	}

	c.logger.Debug("received run.approved event", "run_id", payload.RunID)

	if err := c.processRun(ctx, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotFound) {
			// Событие обогнало транзакцию создания — polling подхватит
			c.logger.Debug("run not yet visible", "run_id", payload.RunID)
			return nil
		}
		c.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}
	return nil
}

// handleRunCancel обрабатывает запрос на отмену run.
func (c *Coordinator) handleRunCancel(ctx context.Context, msg mq.Message) error {
	payload, err := mq.ParsePayload[mq.RunCancelPayload](msg)
	if err != nil {
		c.logger.Error("failed to parse run.cancel payload", "error", err)
		return err
	}

	c.logger.Info("received run.cancel event", "run_id", payload.RunID)

	if err := c.CancelRun(ctx, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrRunNotRunnable) {
			return nil
		}
		return err
	}
	return nil
}

// processRun берёт run в работу этим экземпляром.
//
// Уже активный или терминальный run — no-op. Безопасен при гонке
// с другим экземпляром: все решающие переходы защищены conditional
// updates в БД.
func (c *Coordinator) processRun(ctx context.Context, runID uuid.UUID) error {
	if c.isRunActive(runID) {
		return nil
	}

	run, err := c.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	if run.IsFinished() {
		return nil
	}

	briefing, err := c.briefingRepo.GetByID(ctx, run.BriefingID)
	if err != nil {
		return fmt.Errorf("get briefing: %w", err)
	}

	state := NewRunState(run, briefing)
	if err := c.addActiveRun(state); err != nil {
		// Конкурентный poll/consumer успел раньше
		return nil
	}

	subs, err := c.subRepo.ListByRun(ctx, runID)
	if err != nil {
		c.removeActiveRun(runID)
		return fmt.Errorf("list subagents: %w", err)
	}
	state.Restore(subs)

	if run.Status == domain.RunStatusQueued {
		now := time.Now().UTC()
		err := repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
			if err := c.runRepo.TransitionTx(ctx, tx, runID,
				domain.RunStatusQueued, domain.RunStatusRunning, "", now); err != nil {
				return err
			}
			return appendEventTx(ctx, tx, c.eventRepo,
				newEvent(runID, nil, domain.EventRunStarted, "run started"))
		})
		if err != nil {
			c.removeActiveRun(runID)
			var invalid *domain.InvalidTransitionError
			if errors.As(err, &invalid) {
				// Другой экземпляр успел стартовать run — он и ведёт
				c.logger.Debug("lost run start race", "run_id", runID)
				return nil
			}
			return fmt.Errorf("start run: %w", err)
		}
		run.Status = domain.RunStatusRunning
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runLifecycle(ctx, state)
	}()

	return nil
}

// runLifecycle ведёт run от RUNNING до терминального статуса.
//
// Fan-out: каждый незавершённый subagent получает горутину (через
// общий семафор). Fan-in: по достижении кворума стартует synthesis,
// затем run финализируется по его исходу.
func (c *Coordinator) runLifecycle(ctx context.Context, state *RunState) {
	runID := state.RunID()
	logger := telemetry.WithRunID(c.logger, runID.String())
	defer c.removeActiveRun(runID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	state.SetCancel(cancel)

	// Рестарт посреди отмены: контекст сразу отменён, subagents
	// переведутся в CANCELLED без вызовов провайдера
	if state.Run.Status == domain.RunStatusCancelling {
		cancel()
	}

	var subWG, synthWG sync.WaitGroup
	for _, id := range state.PendingSubagents() {
		subWG.Add(1)
		go func(subID uuid.UUID) {
			defer subWG.Done()

			select {
			case c.sem <- struct{}{}:
				defer func() { <-c.sem }()
			case <-runCtx.Done():
				if sub, err := c.subRepo.GetByID(ctx, subID); err == nil && !sub.Status.IsTerminal() {
					c.cancelSubagent(ctx, state, sub)
				}
				return
			}

			c.executeSubagent(ctx, runCtx, state, subID)
			c.maybeStartSynthesis(ctx, runCtx, state, &synthWG)
		}(id)
	}

	// Кворум мог быть набран ещё до рестарта координатора
	c.maybeStartSynthesis(ctx, runCtx, state, &synthWG)

	subsDone := make(chan struct{})
	go func() {
		subWG.Wait()
		close(subsDone)
	}()

	select {
	case <-subsDone:
	case <-state.SynthesisFinished():
		// Synthesis готов, но часть subagents ещё работает
		if c.stragglerTimeout > 0 {
			select {
			case <-subsDone:
			case <-time.After(c.stragglerTimeout):
				logger.Warn("stragglers exceeded timeout, cancelling them")
				cancel()
				<-subsDone
			}
		} else {
			<-subsDone
		}
	}
	synthWG.Wait()

	if ctx.Err() != nil {
		// Остановка координатора: run остаётся как есть и будет
		// подхвачен после рестарта
		logger.Info("run suspended by shutdown")
		return
	}

	c.finalizeRun(ctx, state)
}

// maybeStartSynthesis запускает synthesis, если кворум набран.
// Диспатч идемпотентен: локально через TryMarkSynthesisStarted,
// глобально через conditional update NOT_STARTED -> RUNNING.
func (c *Coordinator) maybeStartSynthesis(ctx, runCtx context.Context, state *RunState, synthWG *sync.WaitGroup) {
	if runCtx.Err() != nil || !state.QuorumReached() {
		return
	}
	if !state.TryMarkSynthesisStarted() {
		return
	}

	synthWG.Add(1)
	go func() {
		defer synthWG.Done()
		defer state.MarkSynthesisFinished()
		c.executeSynthesis(ctx, runCtx, state)
	}()
}

// CancelRun запрашивает кооперативную отмену run.
//
// Run переводится в CANCELLING; работающие subagents заметят отмену
// контекста и сами перейдут в CANCELLED. Если run ведёт другой
// экземпляр, он увидит CANCELLING через свой poll.
func (c *Coordinator) CancelRun(ctx context.Context, runID uuid.UUID) error {
	run, err := c.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	switch run.Status {
	case domain.RunStatusQueued, domain.RunStatusRunning:
	case domain.RunStatusCancelling:
		return nil // отмена уже запрошена
	default:
		return fmt.Errorf("%w: cannot cancel %s run", ErrRunNotRunnable, run.Status)
	}

	now := time.Now().UTC()
	err = repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
		if err := c.runRepo.TransitionTx(ctx, tx, runID,
			run.Status, domain.RunStatusCancelling, "", now); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, c.eventRepo,
			newEvent(runID, nil, domain.EventRunCancelling, "cancellation requested"))
	})
	if err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			// Run успел завершиться или отмена уже идёт
			return nil
		}
		return fmt.Errorf("cancel run: %w", err)
	}

	c.logger.Info("run cancelling", "run_id", runID)

	c.cancelLocalRun(runID)
	return nil
}

// finalizeRun переводит run в терминальный статус по исходу synthesis.
// Вызывается когда все subagents и synthesis завершены.
func (c *Coordinator) finalizeRun(ctx context.Context, state *RunState) {
	runID := state.RunID()
	logger := telemetry.WithRunID(c.logger, runID.String())

	// БД — источник истины: перечитываем оба статуса
	run, err := c.runRepo.GetByID(ctx, runID)
	if err != nil {
		logger.Error("failed to reload run for finalize", "error", err)
		return
	}
	if run.IsFinished() {
		return
	}

	synth, err := c.synthRepo.GetByRun(ctx, runID)
	if err != nil {
		logger.Error("failed to load synthesis for finalize", "error", err)
		return
	}

	now := time.Now().UTC()

	if run.Status == domain.RunStatusCancelling {
		err := repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
			if !synth.Status.IsTerminal() {
				if err := c.synthRepo.TransitionTx(ctx, tx, runID,
					synth.Status, domain.SynthesisStatusCancelled, "", "run cancelled", now); err != nil {
					return err
				}
				if err := appendEventTx(ctx, tx, c.eventRepo,
					newEvent(runID, nil, domain.EventSynthesisCancelled, "synthesis cancelled")); err != nil {
					return err
				}
			}
			if err := c.runRepo.TransitionTx(ctx, tx, runID,
				domain.RunStatusCancelling, domain.RunStatusCancelled, "", now); err != nil {
				return err
			}
			return appendEventTx(ctx, tx, c.eventRepo,
				newEvent(runID, nil, domain.EventRunCancelled, "run cancelled"))
		})
		if err != nil {
			logger.Error("failed to finalize cancelled run", "error", err)
			return
		}
		logger.Info("run cancelled")
		return
	}

	switch synth.Status {
	case domain.SynthesisStatusSucceeded:
		stats := state.Stats()
		err := repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
			if err := c.runRepo.TransitionTx(ctx, tx, runID,
				domain.RunStatusRunning, domain.RunStatusSucceeded, "", now); err != nil {
				return err
			}
			return appendEventTx(ctx, tx, c.eventRepo,
				newEvent(runID, nil, domain.EventRunSucceeded,
					fmt.Sprintf("run succeeded: %d/%d personas contributed", stats.SuccessLike, stats.Total)))
		})
		if err != nil {
			logger.Error("failed to finalize succeeded run", "error", err)
			return
		}
		logger.Info("run succeeded", "duration", time.Since(run.CreatedAt))

	case domain.SynthesisStatusFailed:
		c.failRun(ctx, state, fmt.Sprintf("synthesis failed: %s", synth.Error))

	case domain.SynthesisStatusCancelled:
		// Synthesis отменён, но run не в CANCELLING — считаем провалом
		c.failRun(ctx, state, "synthesis cancelled outside run cancellation")

	case domain.SynthesisStatusNotStarted:
		if state.QuorumUnreachable() {
			err := repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
				if err := c.synthRepo.TransitionTx(ctx, tx, runID,
					domain.SynthesisStatusNotStarted, domain.SynthesisStatusSkipped,
					"", ErrQuorumUnreachable.Error(), now); err != nil {
					return err
				}
				if err := appendEventTx(ctx, tx, c.eventRepo,
					newEvent(runID, nil, domain.EventSynthesisSkipped, ErrQuorumUnreachable.Error())); err != nil {
					return err
				}
				if err := c.runRepo.TransitionTx(ctx, tx, runID,
					domain.RunStatusRunning, domain.RunStatusFailed, ErrQuorumUnreachable.Error(), now); err != nil {
					return err
				}
				return appendEventTx(ctx, tx, c.eventRepo,
					newEvent(runID, nil, domain.EventRunFailed, ErrQuorumUnreachable.Error()))
			})
			if err != nil {
				logger.Error("failed to finalize quorum-unreachable run", "error", err)
				return
			}
			stats := state.Stats()
			logger.Warn("run failed: quorum unreachable",
				"success_like", stats.SuccessLike,
				"required", state.Run.RequiredForSynthesis,
			)
		} else {
			// Кворум набран, но synthesis не стартовал — вероятно его
			// ведёт другой экземпляр; run подхватится следующим poll
			logger.Debug("run left running: synthesis pending elsewhere")
		}

	case domain.SynthesisStatusRunning:
		// Другой экземпляр ведёт synthesis — не вмешиваемся
		logger.Debug("run left running: synthesis in progress elsewhere")
	}
}

// failRun переводит run в FAILED с сообщением об ошибке.
func (c *Coordinator) failRun(ctx context.Context, state *RunState, reason string) {
	runID := state.RunID()
	now := time.Now().UTC()

	err := repo.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
		if err := c.runRepo.TransitionTx(ctx, tx, runID,
			domain.RunStatusRunning, domain.RunStatusFailed, reason, now); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, c.eventRepo,
			newEvent(runID, nil, domain.EventRunFailed, reason))
	})
	if err != nil {
		c.logger.Error("failed to fail run", "run_id", runID, "error", err)
		return
	}
	c.logger.Warn("run failed", "run_id", runID, "reason", reason)
}
