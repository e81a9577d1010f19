package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"shelf/internal/queue"
)

func openStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newBatch(t *testing.T, store *queue.Store) *queue.Batch {
	t.Helper()
	batch, err := store.NewBatch(context.Background(), "")
	if err != nil {
		t.Fatalf("new batch: %v", err)
	}
	return batch
}

func enqueueOne(t *testing.T, store *queue.Store, batchID string, recordID int64) *queue.Job {
	t.Helper()
	ctx := context.Background()
	if _, _, err := store.Enqueue(ctx, batchID, []int64{recordID}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := store.ActiveJobForRecord(ctx, recordID)
	if err != nil || job == nil {
		t.Fatalf("active job for record %d: %v, %v", recordID, job, err)
	}
	return job
}

func TestActiveBatch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	active, err := store.ActiveBatch(ctx)
	if err != nil {
		t.Fatalf("ActiveBatch failed: %v", err)
	}
	if active != nil {
		t.Fatalf("empty store should have no active batch, got %+v", active)
	}

	batch := newBatch(t, store)
	job := enqueueOne(t, store, batch.ID, 1)

	active, err = store.ActiveBatch(ctx)
	if err != nil {
		t.Fatalf("ActiveBatch failed: %v", err)
	}
	if active == nil || active.ID != batch.ID {
		t.Fatalf("expected batch %s to be active, got %+v", batch.ID, active)
	}

	if err := store.MarkSucceeded(ctx, job.ID, 90); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	active, err = store.ActiveBatch(ctx)
	if err != nil {
		t.Fatalf("ActiveBatch failed: %v", err)
	}
	if active != nil {
		t.Fatalf("batch with only finished jobs should not be active, got %+v", active)
	}
}

func TestActiveBatchIgnoresCanceled(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)
	enqueueOne(t, store, batch.ID, 1)

	if _, err := store.CancelBatch(ctx, batch.ID); err != nil {
		t.Fatalf("CancelBatch failed: %v", err)
	}
	active, err := store.ActiveBatch(ctx)
	if err != nil {
		t.Fatalf("ActiveBatch failed: %v", err)
	}
	if active != nil {
		t.Fatalf("canceled batch should not be active, got %+v", active)
	}
}

func TestEnqueueAndDequeue(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)

	enqueued, skipped, err := store.Enqueue(ctx, batch.ID, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(enqueued) != 3 || len(skipped) != 0 {
		t.Fatalf("Enqueue = %v skipped %v", enqueued, skipped)
	}

	job, err := store.NextDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("NextDue failed: %v", err)
	}
	if job == nil || job.RecordID != 1 {
		t.Fatalf("expected record 1 first, got %+v", job)
	}
	if job.Status != queue.StatusPending || job.Attempts != 0 {
		t.Fatalf("fresh job in wrong state: %+v", job)
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)

	if _, _, err := store.Enqueue(ctx, batch.ID, []int64{7}); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}
	enqueued, skipped, err := store.Enqueue(ctx, batch.ID, []int64{7, 8})
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}
	if len(enqueued) != 1 || enqueued[0] != 8 {
		t.Fatalf("expected only record 8 enqueued, got %v", enqueued)
	}
	if len(skipped) != 1 || skipped[0] != 7 {
		t.Fatalf("expected record 7 skipped, got %v", skipped)
	}
}

func TestMarkInFlightCountsAttempt(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)
	job := enqueueOne(t, store, batch.ID, 1)

	started, err := store.MarkInFlight(ctx, job.ID)
	if err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if started == nil || started.Status != queue.StatusInFlight || started.Attempts != 1 {
		t.Fatalf("unexpected in-flight job: %+v", started)
	}
	if started.StartedAt == nil {
		t.Fatal("StartedAt not set")
	}

	// A job that is no longer pending cannot be claimed again.
	again, err := store.MarkInFlight(ctx, job.ID)
	if err != nil {
		t.Fatalf("second MarkInFlight errored: %v", err)
	}
	if again != nil {
		t.Fatalf("claimed non-pending job: %+v", again)
	}
}

func TestScheduleRetryDefersJob(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)
	first := enqueueOne(t, store, batch.ID, 1)
	enqueueOne(t, store, batch.ID, 2)

	if _, err := store.MarkInFlight(ctx, first.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	now := time.Now()
	if err := store.ScheduleRetry(ctx, first.ID, now.Add(time.Minute), "provider unavailable"); err != nil {
		t.Fatalf("ScheduleRetry failed: %v", err)
	}

	// The deferred job is passed over; record 2 runs instead.
	job, err := store.NextDue(ctx, now)
	if err != nil {
		t.Fatalf("NextDue failed: %v", err)
	}
	if job == nil || job.RecordID != 2 {
		t.Fatalf("expected record 2 while record 1 backs off, got %+v", job)
	}

	// Once the deadline passes, record 1 leads again by submission order.
	job, err = store.NextDue(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("NextDue after deadline failed: %v", err)
	}
	if job == nil || job.RecordID != 1 {
		t.Fatalf("expected record 1 after backoff, got %+v", job)
	}
	if job.Attempts != 1 || job.ErrorMessage != "provider unavailable" {
		t.Fatalf("retry bookkeeping lost: %+v", job)
	}
}

func TestTerminalTransitions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)

	succeeded := enqueueOne(t, store, batch.ID, 1)
	failed := enqueueOne(t, store, batch.ID, 2)
	review := enqueueOne(t, store, batch.ID, 3)

	if err := store.MarkSucceeded(ctx, succeeded.ID, 130); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if err := store.MarkFailed(ctx, failed.ID, "no candidate above threshold"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := store.MarkReview(ctx, review.ID, "two candidates tied"); err != nil {
		t.Fatalf("MarkReview failed: %v", err)
	}

	got, err := store.GetByID(ctx, succeeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != queue.StatusSucceeded || got.MatchScore != 130 || got.FinishedAt == nil {
		t.Fatalf("unexpected succeeded job: %+v", got)
	}
	if !got.Terminal() {
		t.Fatal("succeeded job should be terminal")
	}

	got, err = store.GetByID(ctx, review.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != queue.StatusReview || got.Terminal() {
		t.Fatalf("review job should be parked, not terminal: %+v", got)
	}

	progress, err := store.BatchProgress(ctx, batch.ID)
	if err != nil {
		t.Fatalf("BatchProgress failed: %v", err)
	}
	if progress.Total != 3 || progress.Succeeded != 1 || progress.Failed != 1 || progress.Review != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if !progress.Done() {
		t.Fatal("batch with no runnable jobs should be done")
	}
}

func TestCancelBatchLeavesInFlight(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)

	running := enqueueOne(t, store, batch.ID, 1)
	enqueueOne(t, store, batch.ID, 2)
	enqueueOne(t, store, batch.ID, 3)

	if _, err := store.MarkInFlight(ctx, running.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}

	canceled, err := store.CancelBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("CancelBatch failed: %v", err)
	}
	if canceled != 2 {
		t.Fatalf("expected 2 pending jobs canceled, got %d", canceled)
	}

	flagged, err := store.BatchCanceled(ctx, batch.ID)
	if err != nil || !flagged {
		t.Fatalf("BatchCanceled = %v, %v", flagged, err)
	}

	got, err := store.GetByID(ctx, running.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != queue.StatusInFlight {
		t.Fatalf("in-flight job must be left for the worker, got %s", got.Status)
	}

	jobs, err := store.ListBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("ListBatch failed: %v", err)
	}
	for _, job := range jobs[1:] {
		if job.Status != queue.StatusCanceled || job.ErrorMessage != queue.BatchCancelReason {
			t.Fatalf("pending job not canceled: %+v", job)
		}
	}
}

func TestCancelDoesNotAffectOtherBatches(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	victim := newBatch(t, store)
	other := newBatch(t, store)

	enqueueOne(t, store, victim.ID, 1)
	survivor := enqueueOne(t, store, other.ID, 2)

	if _, err := store.CancelBatch(ctx, victim.ID); err != nil {
		t.Fatalf("CancelBatch failed: %v", err)
	}

	got, err := store.GetByID(ctx, survivor.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("other batch's job touched by cancel: %+v", got)
	}
}

func TestRetryJobsResetsAttemptBudget(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)
	job := enqueueOne(t, store, batch.ID, 1)

	if _, err := store.MarkInFlight(ctx, job.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.MarkFailed(ctx, job.ID, "provider unavailable"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	retried, err := store.RetryJobs(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryJobs failed: %v", err)
	}
	if retried != 1 {
		t.Fatalf("RetryJobs = %d, want 1", retried)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != queue.StatusPending || got.Attempts != 0 || got.ErrorMessage != "" {
		t.Fatalf("retried job not reset: %+v", got)
	}
}

func TestRetryJobsIgnoresSucceeded(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)
	job := enqueueOne(t, store, batch.ID, 1)

	if err := store.MarkSucceeded(ctx, job.ID, 100); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	retried, err := store.RetryJobs(ctx)
	if err != nil {
		t.Fatalf("RetryJobs failed: %v", err)
	}
	if retried != 0 {
		t.Fatalf("succeeded job must not be retried, got %d", retried)
	}
}

func TestResetStuckInFlight(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)
	job := enqueueOne(t, store, batch.ID, 1)

	if _, err := store.MarkInFlight(ctx, job.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}

	reset, err := store.ResetStuckInFlight(ctx)
	if err != nil {
		t.Fatalf("ResetStuckInFlight failed: %v", err)
	}
	if reset != 1 {
		t.Fatalf("ResetStuckInFlight = %d, want 1", reset)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != queue.StatusPending || got.StartedAt != nil {
		t.Fatalf("stuck job not reset: %+v", got)
	}
	if got.ErrorMessage != queue.ShutdownReason {
		t.Fatalf("reset job message = %q, want %q", got.ErrorMessage, queue.ShutdownReason)
	}
	// The interrupted attempt still counts against the budget.
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
}

func TestClearFinished(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	batch := newBatch(t, store)

	done := enqueueOne(t, store, batch.ID, 1)
	enqueueOne(t, store, batch.ID, 2)
	parked := enqueueOne(t, store, batch.ID, 3)

	if err := store.MarkSucceeded(ctx, done.ID, 100); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if err := store.MarkReview(ctx, parked.ID, "ambiguous"); err != nil {
		t.Fatalf("MarkReview failed: %v", err)
	}

	cleared, err := store.ClearFinished(ctx)
	if err != nil {
		t.Fatalf("ClearFinished failed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("ClearFinished = %d, want 1", cleared)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Review != 1 {
		t.Fatalf("unexpected health after clear: %+v", health)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := queue.ParseStatus(" In_Flight "); !ok || status != queue.StatusInFlight {
		t.Fatalf("ParseStatus = %q, %v", status, ok)
	}
	if _, ok := queue.ParseStatus("exploded"); ok {
		t.Fatal("unknown status must not parse")
	}
}
