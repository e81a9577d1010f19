package daemon

import (
	"context"
	"fmt"

	"shelf/internal/logging"
	"shelf/internal/queue"
	"shelf/internal/services"
)

// EnqueueResult reports the outcome of an enqueue request.
type EnqueueResult struct {
	BatchID  string
	Enqueued []int64
	Skipped  []int64
}

// EnqueueRecords queues the given records for enrichment. When a batch is
// still running the records join it; otherwise a fresh batch is created. An
// empty id list queues every record that has not been enriched yet. Records
// that already have a pending or in-flight job are reported as skipped.
func (d *Daemon) EnqueueRecords(ctx context.Context, ids []int64, note string) (EnqueueResult, error) {
	result := EnqueueResult{}

	if len(ids) == 0 {
		records, err := d.records.List(ctx)
		if err != nil {
			return result, fmt.Errorf("list records: %w", err)
		}
		for _, record := range records {
			if record.EnrichedAt == nil {
				ids = append(ids, record.ID)
			}
		}
	} else {
		for _, id := range ids {
			record, err := d.records.GetByID(ctx, id)
			if err != nil {
				return result, fmt.Errorf("load record %d: %w", id, err)
			}
			if record == nil {
				return result, services.Wrap(services.ErrNotFound, "daemon", "enqueue", fmt.Sprintf("record %d not found", id), nil)
			}
		}
	}
	if len(ids) == 0 {
		return result, services.Wrap(services.ErrValidation, "daemon", "enqueue", "no records need enrichment", nil)
	}

	batch, err := d.jobs.ActiveBatch(ctx)
	if err != nil {
		return result, fmt.Errorf("find active batch: %w", err)
	}
	if batch == nil {
		batch, err = d.jobs.NewBatch(ctx, note)
		if err != nil {
			return result, fmt.Errorf("create batch: %w", err)
		}
	}
	enqueued, skipped, err := d.jobs.Enqueue(ctx, batch.ID, ids)
	if err != nil {
		return result, fmt.Errorf("enqueue records: %w", err)
	}

	result.BatchID = batch.ID
	result.Enqueued = enqueued
	result.Skipped = skipped
	d.logger.Info("batch enqueued",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.Int("enqueued", len(enqueued)),
		logging.Int("skipped", len(skipped)),
		logging.String(logging.FieldEventType, "batch_enqueued"),
	)
	return result, nil
}

// ListJobs returns jobs, optionally filtered by status.
func (d *Daemon) ListJobs(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	return d.jobs.List(ctx, statuses...)
}

// ListBatch returns every job in a batch.
func (d *Daemon) ListBatch(ctx context.Context, batchID string) ([]*queue.Job, error) {
	return d.jobs.ListBatch(ctx, batchID)
}

// BatchProgress returns per-status counts for a batch.
func (d *Daemon) BatchProgress(ctx context.Context, batchID string) (queue.BatchProgress, error) {
	return d.jobs.BatchProgress(ctx, batchID)
}

// CancelBatch cancels a batch's pending jobs. The in-flight job, if any,
// stops at its next cancellation check.
func (d *Daemon) CancelBatch(ctx context.Context, batchID string) (int64, error) {
	canceled, err := d.jobs.CancelBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	d.logger.Info("batch canceled",
		logging.String(logging.FieldBatchID, batchID),
		logging.Int64("canceled", canceled),
		logging.String(logging.FieldEventType, "batch_canceled"),
	)
	return canceled, nil
}

// RetryJobs moves failed and review jobs back to pending with a fresh
// attempt budget. Without ids, every failed or review job is retried.
func (d *Daemon) RetryJobs(ctx context.Context, ids ...int64) (int64, error) {
	return d.jobs.RetryJobs(ctx, ids...)
}

// ResetStuck returns in-flight jobs to pending after an unclean shutdown.
func (d *Daemon) ResetStuck(ctx context.Context) (int64, error) {
	return d.jobs.ResetStuckInFlight(ctx)
}

// ClearFinished removes succeeded, failed, and canceled jobs.
func (d *Daemon) ClearFinished(ctx context.Context) (int64, error) {
	return d.jobs.ClearFinished(ctx)
}

// QueueHealth summarizes queue state for status reporting.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.jobs.Health(ctx)
}
