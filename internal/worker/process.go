package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shelf/internal/enrichment"
	"shelf/internal/library"
	"shelf/internal/logging"
	"shelf/internal/notifications"
	"shelf/internal/queue"
	"shelf/internal/services"
)

// Retry backoff doubles per attempt from retryBaseDelay up to retryMaxDelay.
// A provider Retry-After hint longer than the computed delay wins.
const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 8 * time.Second
)

// RecordRemovedReason is set on jobs whose record disappeared before the
// job ran.
const RecordRemovedReason = "Record removed before enrichment"

func (m *Manager) processJob(ctx context.Context, job *queue.Job) error {
	claimed, err := m.jobs.MarkInFlight(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("claim job %d: %w", job.ID, err)
	}
	if claimed == nil {
		// Canceled or retried between dequeue and claim.
		return nil
	}
	job = claimed

	logger := m.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldRecordID, job.RecordID),
		logging.String(logging.FieldBatchID, job.BatchID),
	)

	m.announceBatch(ctx, job.BatchID)

	if canceled, err := m.jobs.BatchCanceled(ctx, job.BatchID); err == nil && canceled {
		return m.finishCanceled(ctx, logger, job)
	}

	record, err := m.records.GetByID(ctx, job.RecordID)
	if err != nil {
		return m.handleJobError(ctx, logger, job, nil, fmt.Errorf("load record: %w", err))
	}
	if record == nil {
		// The record was deleted after enqueue. Drop the job quietly.
		logger.Debug("job references missing record, dropping",
			logging.String(logging.FieldEventType, "job_dropped"),
		)
		if err := m.jobs.MarkCanceled(ctx, job.ID, RecordRemovedReason); err != nil {
			return fmt.Errorf("drop job %d: %w", job.ID, err)
		}
		m.finalizeBatch(ctx, job.BatchID)
		return nil
	}

	m.publish(notifications.Event{
		Type:     notifications.EventJobStarted,
		BatchID:  job.BatchID,
		JobID:    job.ID,
		RecordID: record.ID,
		Title:    record.Title,
	})
	logger.Info("enriching record",
		logging.String("title", record.Title),
		logging.Int("attempt", job.Attempts),
		logging.String(logging.FieldEventType, "job_started"),
	)

	target := enrichment.TargetFor(record)
	candidates, err := m.searcher.Search(ctx, target.NormalizedTitle, target.Author)
	if err != nil {
		return m.handleJobError(ctx, logger, job, record, err)
	}

	// The search may have taken a while; honor a cancel that arrived
	// during it before touching the library.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if canceled, err := m.jobs.BatchCanceled(ctx, job.BatchID); err == nil && canceled {
		return m.finishCanceled(ctx, logger, job)
	}

	selection, ok := enrichment.SelectBest(candidates, target, m.cfg.Enrichment.AcceptThreshold, m.cfg.Enrichment.AmbiguityMargin)
	if !ok {
		return m.finishFailed(ctx, logger, job, record, "no candidate scored above the acceptance threshold")
	}
	if selection.Ambiguous && m.cfg.Enrichment.ReviewAmbiguous {
		return m.finishReview(ctx, logger, job, record, selection)
	}

	return m.applySelection(ctx, logger, job, record, selection)
}

// applySelection merges the accepted candidate into the library, collapsing
// the record into an existing duplicate when one is found.
func (m *Manager) applySelection(ctx context.Context, logger *slog.Logger, job *queue.Job, record *library.Record, selection enrichment.Selection) error {
	// Dedupe the record as it will look after enrichment so that an ISBN
	// supplied by the candidate can hit the exact-ISBN tier.
	completed := record.Clone()
	enrichment.ApplyCandidate(completed, selection.Candidate)
	match := m.detector.FindExisting(ctx, completed)
	if !match.None() {
		return m.mergeIntoExisting(ctx, logger, job, record, selection, match)
	}

	// Re-read before writing: the record may have been edited while the
	// provider call was in flight, and existing values must win.
	fresh, err := m.records.GetByID(ctx, record.ID)
	if err != nil {
		return m.handleJobError(ctx, logger, job, record, fmt.Errorf("reload record: %w", err))
	}
	if fresh == nil {
		if err := m.jobs.MarkCanceled(ctx, job.ID, RecordRemovedReason); err != nil {
			return fmt.Errorf("drop job %d: %w", job.ID, err)
		}
		m.finalizeBatch(ctx, job.BatchID)
		return nil
	}

	enrichment.ApplyCandidate(fresh, selection.Candidate)
	fresh.Title = enrichment.TidyDisplayTitle(fresh.Title)
	fresh.ErrorMessage = ""
	now := time.Now().UTC()
	fresh.EnrichedAt = &now
	if err := m.records.Update(ctx, fresh); err != nil {
		return m.handleJobError(ctx, logger, job, record, fmt.Errorf("persist enrichment: %w", err))
	}

	if err := m.jobs.MarkSucceeded(ctx, job.ID, selection.Score); err != nil {
		return fmt.Errorf("finish job %d: %w", job.ID, err)
	}
	processed, total := m.processedCounts(ctx, job.BatchID)
	m.publish(notifications.Event{
		Type:      notifications.EventJobSucceeded,
		BatchID:   job.BatchID,
		JobID:     job.ID,
		RecordID:  fresh.ID,
		Title:     fresh.Title,
		Score:     selection.Score,
		Completed: processed,
		Total:     total,
	})
	logger.Info("record enriched",
		logging.Int("score", selection.Score),
		logging.String(logging.FieldEventType, "job_succeeded"),
	)
	m.finalizeBatch(ctx, job.BatchID)
	return nil
}

func (m *Manager) mergeIntoExisting(ctx context.Context, logger *slog.Logger, job *queue.Job, record *library.Record, selection enrichment.Selection, match enrichment.DuplicateMatch) error {
	existing, err := m.records.GetByID(ctx, match.RecordID)
	if err != nil {
		return m.handleJobError(ctx, logger, job, record, fmt.Errorf("load duplicate target: %w", err))
	}
	if existing == nil {
		// The duplicate vanished between detection and merge; fall back to
		// enriching the record in place.
		return m.applySelection(ctx, logger, job, record, selection)
	}

	enrichment.MergeRecords(existing, record)
	enrichment.ApplyCandidate(existing, selection.Candidate)
	existing.ErrorMessage = ""
	now := time.Now().UTC()
	existing.EnrichedAt = &now
	if err := m.records.Update(ctx, existing); err != nil {
		return m.handleJobError(ctx, logger, job, record, fmt.Errorf("persist merge: %w", err))
	}
	if _, err := m.records.Remove(ctx, record.ID); err != nil {
		return m.handleJobError(ctx, logger, job, record, fmt.Errorf("remove merged duplicate: %w", err))
	}

	if err := m.jobs.MarkSucceeded(ctx, job.ID, selection.Score); err != nil {
		return fmt.Errorf("finish job %d: %w", job.ID, err)
	}
	processed, total := m.processedCounts(ctx, job.BatchID)
	m.publish(notifications.Event{
		Type:      notifications.EventJobMerged,
		BatchID:   job.BatchID,
		JobID:     job.ID,
		RecordID:  existing.ID,
		Title:     existing.Title,
		Score:     selection.Score,
		Message:   fmt.Sprintf("merged into record %d (%s)", existing.ID, match.Kind),
		Completed: processed,
		Total:     total,
	})
	logger.Info("duplicate merged",
		logging.Int64("surviving_record_id", existing.ID),
		logging.String("match_kind", match.Kind.String()),
		logging.String(logging.FieldEventType, "job_merged"),
	)
	m.finalizeBatch(ctx, job.BatchID)
	return nil
}

// handleJobError routes a pipeline failure to retry or permanent failure.
func (m *Manager) handleJobError(ctx context.Context, logger *slog.Logger, job *queue.Job, record *library.Record, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}

	if services.Retryable(cause) && job.Attempts < m.maxAttempts() {
		delay := retryDelay(job.Attempts, services.RetryAfter(cause))
		if err := m.jobs.ScheduleRetry(ctx, job.ID, time.Now().Add(delay), cause.Error()); err != nil {
			return fmt.Errorf("schedule retry for job %d: %w", job.ID, err)
		}
		m.publish(notifications.Event{
			Type:     notifications.EventJobRetrying,
			BatchID:  job.BatchID,
			JobID:    job.ID,
			RecordID: job.RecordID,
			Message:  cause.Error(),
		})
		logger.Warn("attempt failed, retry scheduled",
			logging.Error(cause),
			logging.Int("attempt", job.Attempts),
			logging.Duration("delay", delay),
			logging.String(logging.FieldEventType, "job_retrying"),
		)
		return nil
	}

	return m.finishFailed(ctx, logger, job, record, cause.Error())
}

func (m *Manager) finishFailed(ctx context.Context, logger *slog.Logger, job *queue.Job, record *library.Record, message string) error {
	if err := m.jobs.MarkFailed(ctx, job.ID, message); err != nil {
		return fmt.Errorf("fail job %d: %w", job.ID, err)
	}
	if record != nil {
		record.ErrorMessage = message
		if err := m.records.Update(ctx, record); err != nil {
			logger.Warn("failed to store error on record",
				logging.Error(err),
				logging.String(logging.FieldEventType, "record_error_persist_failed"),
			)
		}
	}

	processed, total := m.processedCounts(ctx, job.BatchID)
	m.publish(notifications.Event{
		Type:      notifications.EventJobFailed,
		BatchID:   job.BatchID,
		JobID:     job.ID,
		RecordID:  job.RecordID,
		Message:   message,
		Completed: processed,
		Total:     total,
	})
	logger.Error("enrichment failed",
		logging.String("reason", message),
		logging.Int("attempt", job.Attempts),
		logging.String(logging.FieldEventType, "job_failed"),
	)
	if err := m.pusher.NotifyError(ctx, errors.New(message), fmt.Sprintf("record %d", job.RecordID)); err != nil {
		logger.Debug("error notification failed", logging.Error(err))
	}
	m.finalizeBatch(ctx, job.BatchID)
	return nil
}

func (m *Manager) finishReview(ctx context.Context, logger *slog.Logger, job *queue.Job, record *library.Record, selection enrichment.Selection) error {
	message := fmt.Sprintf("ambiguous match: best candidate %q scored %d within the margin of another", selection.Candidate.Title, selection.Score)
	if err := m.jobs.MarkReview(ctx, job.ID, message); err != nil {
		return fmt.Errorf("park job %d: %w", job.ID, err)
	}
	processed, total := m.processedCounts(ctx, job.BatchID)
	m.publish(notifications.Event{
		Type:      notifications.EventJobReview,
		BatchID:   job.BatchID,
		JobID:     job.ID,
		RecordID:  record.ID,
		Title:     record.Title,
		Score:     selection.Score,
		Message:   message,
		Completed: processed,
		Total:     total,
	})
	logger.Info("match ambiguous, parked for review",
		logging.Int("score", selection.Score),
		logging.String(logging.FieldEventType, "job_review"),
	)
	m.finalizeBatch(ctx, job.BatchID)
	return nil
}

func (m *Manager) finishCanceled(ctx context.Context, logger *slog.Logger, job *queue.Job) error {
	if err := m.jobs.MarkCanceled(ctx, job.ID, queue.BatchCancelReason); err != nil {
		return fmt.Errorf("cancel job %d: %w", job.ID, err)
	}
	processed, total := m.processedCounts(ctx, job.BatchID)
	m.publish(notifications.Event{
		Type:      notifications.EventJobCanceled,
		BatchID:   job.BatchID,
		JobID:     job.ID,
		RecordID:  job.RecordID,
		Completed: processed,
		Total:     total,
	})
	logger.Info("job canceled with batch",
		logging.String(logging.FieldEventType, "job_canceled"),
	)
	m.finalizeBatch(ctx, job.BatchID)
	return nil
}

// processedCounts reports how many of the batch's jobs have left the
// runnable states and the batch total. Job-terminal events carry these so
// watchers see running X/Y progress.
func (m *Manager) processedCounts(ctx context.Context, batchID string) (processed, total int) {
	progress, err := m.jobs.BatchProgress(ctx, batchID)
	if err != nil {
		return 0, 0
	}
	return progress.Total - progress.Pending - progress.InFlight, progress.Total
}

// announceBatch publishes the batch-started event the first time one of the
// batch's jobs runs in this process.
func (m *Manager) announceBatch(ctx context.Context, batchID string) {
	m.mu.Lock()
	if _, seen := m.startedBatches[batchID]; seen {
		m.mu.Unlock()
		return
	}
	m.startedBatches[batchID] = time.Now().UTC()
	m.mu.Unlock()

	progress, err := m.jobs.BatchProgress(ctx, batchID)
	if err != nil {
		return
	}
	m.publish(notifications.Event{
		Type:    notifications.EventBatchStarted,
		BatchID: batchID,
		Total:   progress.Total,
	})
	if err := m.pusher.NotifyBatchStarted(ctx, batchID, progress.Total); err != nil {
		m.logger.Debug("batch start notification failed", logging.Error(err))
	}
}

// finalizeBatch emits completion events once a batch has no runnable jobs.
func (m *Manager) finalizeBatch(ctx context.Context, batchID string) {
	progress, err := m.jobs.BatchProgress(ctx, batchID)
	if err != nil || !progress.Done() {
		return
	}

	m.mu.Lock()
	startedAt, seen := m.startedBatches[batchID]
	delete(m.startedBatches, batchID)
	m.mu.Unlock()
	if !seen {
		return
	}
	duration := time.Since(startedAt)

	batch, err := m.jobs.GetBatch(ctx, batchID)
	if err == nil && batch != nil && batch.Canceled() {
		m.publish(notifications.Event{
			Type:      notifications.EventBatchCanceled,
			BatchID:   batchID,
			Completed: progress.Succeeded,
			Total:     progress.Total,
		})
		if err := m.pusher.NotifyBatchCanceled(ctx, batchID, progress.Canceled); err != nil {
			m.logger.Debug("batch cancel notification failed", logging.Error(err))
		}
		return
	}

	m.publish(notifications.Event{
		Type:      notifications.EventBatchCompleted,
		BatchID:   batchID,
		Completed: progress.Succeeded,
		Total:     progress.Total,
	})
	m.logger.Info("batch complete",
		logging.String(logging.FieldBatchID, batchID),
		logging.Int("succeeded", progress.Succeeded),
		logging.Int("failed", progress.Failed),
		logging.String(logging.FieldEventType, "batch_completed"),
	)
	if err := m.pusher.NotifyBatchCompleted(ctx, batchID, progress.Succeeded, progress.Failed, duration); err != nil {
		m.logger.Debug("batch completion notification failed", logging.Error(err))
	}
}

func (m *Manager) publish(event notifications.Event) {
	if m.hub != nil {
		m.hub.Publish(event)
	}
}

func (m *Manager) maxAttempts() int {
	if m.cfg.Enrichment.MaxAttempts > 0 {
		return m.cfg.Enrichment.MaxAttempts
	}
	return 4
}

// retryDelay computes the backoff before the next attempt. attempts is the
// count already made.
func retryDelay(attempts int, providerHint time.Duration) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			delay = retryMaxDelay
			break
		}
	}
	if providerHint > delay {
		delay = providerHint
	}
	return delay
}
