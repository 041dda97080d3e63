package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/telemetry"
)

// claimableStatuses — статусы, из которых job можно захватить.
var claimableStatuses = []domain.JobStatus{domain.JobStatusPending, domain.JobStatusRetry}

// handleJobReady обрабатывает уведомление о готовом job из MQ.
func (w *Worker) handleJobReady(ctx context.Context, msg mq.Message) error {
	payload, err := mq.ParsePayload[mq.JobReadyPayload](msg)
	if err != nil {
		w.logger.Error("failed to parse job.ready payload", "error", err)
		return err
	}

	queue := domain.QueueName(payload.Queue)
	if _, ok := w.repos[queue]; !ok {
		// Очередь не обслуживается этим экземпляром — ack и забываем
		w.logger.Debug("job for unserved queue", "queue", payload.Queue)
		return nil
	}

	w.logger.Debug("received job.ready event", "queue", queue, "job_id", payload.JobID)
	return w.processJob(ctx, queue, payload.JobID)
}

// processJob захватывает job, выполняет и фиксирует результат.
//
// Проигранная гонка за lease — нормальный исход, не ошибка.
func (w *Worker) processJob(ctx context.Context, queue domain.QueueName, jobID uuid.UUID) error {
	jobRepo := w.repos[queue]
	now := time.Now().UTC()

	// 1. Захватываем lease через conditional update
	job, claimed, err := jobRepo.TryClaim(ctx, jobID, claimableStatuses, w.owner, now)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		w.logger.Debug("lost claim race", "queue", queue, "job_id", jobID)
		return nil
	}

	telemetry.JobsClaimed.WithLabelValues(string(queue)).Inc()

	logger := telemetry.WithJobID(w.logger, job.ID.String()).With("queue", queue)
	logger.Info("job claimed", "attempts", job.Attempts, "subject_id", job.SubjectID)

	// 2. Выполняем
	executor, err := w.registry.Get(queue)
	if err != nil {
		// Lease уже наш: возвращаем job в очередь, а не оставляем
		// висеть в PROCESSING до stale sweep.
		if _, rerr := jobRepo.RetryOrFail(ctx, job.ID, err.Error(), w.initialBackoff, time.Now().UTC()); rerr != nil {
			logger.Error("failed to release lease after registry miss", "error", rerr)
		}
		return err
	}

	execErr := executor.Execute(ctx, job)

	// 3. Фиксируем результат
	if execErr == nil {
		if err := jobRepo.Complete(ctx, job.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		telemetry.JobsCompleted.WithLabelValues(string(queue), "succeeded").Inc()
		logger.Info("job succeeded")
		return nil
	}

	if isPermanent(execErr) {
		// Permanent: сразу FAILED, попытка не расходуется
		if err := jobRepo.Fail(ctx, job.ID, execErr.Error(), time.Now().UTC()); err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		telemetry.JobsCompleted.WithLabelValues(string(queue), "failed").Inc()
		logger.Warn("job failed permanently", "error", execErr)
		return nil
	}

	// Transient: RETRY с backoff или FAILED, если попытки исчерпаны
	backoff := backoffDelay(w.initialBackoff, w.maxBackoff, job.Attempts)
	status, err := jobRepo.RetryOrFail(ctx, job.ID, execErr.Error(), backoff, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}

	if status == domain.JobStatusRetry {
		telemetry.JobRetries.WithLabelValues(string(queue)).Inc()
		logger.Warn("job will retry", "backoff", backoff, "error", execErr)
	} else {
		telemetry.JobsCompleted.WithLabelValues(string(queue), "failed").Inc()
		logger.Warn("job failed, retries exhausted", "error", execErr)
	}
	return nil
}
