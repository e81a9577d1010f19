package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store manages enrichment job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// NewBatch creates a batch row and returns it. The identifier is a fresh
// UUID so batches submitted by concurrent clients never collide.
func (s *Store) NewBatch(ctx context.Context, note string) (*Batch, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO batches (id, note, created_at) VALUES (?, ?, ?)`,
		id,
		nullableString(note),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return &Batch{ID: id, Note: note, CreatedAt: now}, nil
}

// GetBatch fetches a batch by identifier. Returns nil without error when the
// batch does not exist.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, note, created_at, canceled_at FROM batches WHERE id = ?`,
		batchID,
	)
	var (
		id          string
		note        sql.NullString
		createdRaw  string
		canceledRaw sql.NullString
	)
	err := row.Scan(&id, &note, &createdRaw, &canceledRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	batch := &Batch{ID: id, Note: note.String}
	if created, err := parseTimeString(createdRaw); err == nil {
		batch.CreatedAt = created
	}
	if canceledRaw.Valid {
		if canceled, err := parseTimeString(canceledRaw.String); err == nil {
			batch.CanceledAt = &canceled
		}
	}
	return batch, nil
}

// ActiveBatch returns the most recent batch that still has pending or
// in-flight jobs and has not been canceled. Returns nil without error when
// no batch is active.
func (s *Store) ActiveBatch(ctx context.Context) (*Batch, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT b.id, b.note, b.created_at, b.canceled_at
         FROM batches b
         WHERE b.canceled_at IS NULL
           AND EXISTS (
               SELECT 1 FROM jobs j
               WHERE j.batch_id = b.id AND j.status IN (?, ?)
           )
         ORDER BY b.created_at DESC, b.id DESC
         LIMIT 1`,
		activeStatuses[0],
		activeStatuses[1],
	)
	var (
		id          string
		note        sql.NullString
		createdRaw  string
		canceledRaw sql.NullString
	)
	err := row.Scan(&id, &note, &createdRaw, &canceledRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active batch: %w", err)
	}

	batch := &Batch{ID: id, Note: note.String}
	if created, err := parseTimeString(createdRaw); err == nil {
		batch.CreatedAt = created
	}
	return batch, nil
}

// Enqueue adds one job per record to the batch. Records that already have a
// pending or in-flight job are skipped, making repeated enqueues of the same
// records safe. Returns the IDs that were enqueued and those skipped.
func (s *Store) Enqueue(ctx context.Context, batchID string, recordIDs []int64) (enqueued, skipped []int64, err error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, nil, errors.New("batch id required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for _, recordID := range recordIDs {
		var active int
		err := tx.QueryRowContext(
			ctx,
			`SELECT COUNT(1) FROM jobs WHERE record_id = ? AND status IN (?, ?)`,
			recordID,
			activeStatuses[0],
			activeStatuses[1],
		).Scan(&active)
		if err != nil {
			return nil, nil, fmt.Errorf("check active job: %w", err)
		}
		if active > 0 {
			skipped = append(skipped, recordID)
			continue
		}

		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO jobs (batch_id, record_id, status, attempts, created_at, updated_at)
             VALUES (?, ?, ?, 0, ?, ?)`,
			batchID,
			recordID,
			StatusPending,
			timestamp,
			timestamp,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("insert job: %w", err)
		}
		enqueued = append(enqueued, recordID)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit enqueue tx: %w", err)
	}
	return enqueued, skipped, nil
}

// GetByID fetches a job by identifier. Returns nil without error when the
// job does not exist.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// NextDue returns the oldest pending job whose backoff schedule allows it to
// run at now. Jobs waiting on a retry delay are passed over, so fresh work is
// not starved by a record in a retry loop.
func (s *Store) NextDue(ctx context.Context, now time.Time) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
         ORDER BY id LIMIT 1`,
		StatusPending,
		now.UTC().Format(time.RFC3339Nano),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next due job: %w", err)
	}
	return job, nil
}

// MarkInFlight transitions a pending job to in-flight and counts the attempt.
// Returns the refreshed job, or nil when the job was not pending (for
// example, canceled between dequeue and start).
func (s *Store) MarkInFlight(ctx context.Context, id int64) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, attempts = attempts + 1, started_at = ?, next_attempt_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusInFlight,
		now,
		now,
		id,
		StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("mark in flight: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

// MarkSucceeded finalizes a job with the accepted candidate's score.
func (s *Store) MarkSucceeded(ctx context.Context, id int64, matchScore int) error {
	return s.finishJob(ctx, id, StatusSucceeded, "", matchScore)
}

// MarkFailed finalizes a job as permanently failed.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.finishJob(ctx, id, StatusFailed, message, 0)
}

// MarkCanceled finalizes a job as canceled.
func (s *Store) MarkCanceled(ctx context.Context, id int64, reason string) error {
	return s.finishJob(ctx, id, StatusCanceled, reason, 0)
}

// MarkReview parks a job for manual review without counting it failed.
func (s *Store) MarkReview(ctx context.Context, id int64, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, next_attempt_at = NULL, updated_at = ? WHERE id = ?`,
		StatusReview,
		nullableString(message),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark review: %w", err)
	}
	return nil
}

func (s *Store) finishJob(ctx context.Context, id int64, status Status, message string, matchScore int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, match_score = ?, next_attempt_at = NULL,
             finished_at = ?, updated_at = ?
         WHERE id = ?`,
		status,
		nullableString(message),
		matchScore,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish job as %s: %w", status, err)
	}
	return nil
}

// ScheduleRetry returns a job to pending with a backoff deadline. The job
// will not be dequeued again before nextAttempt.
func (s *Store) ScheduleRetry(ctx context.Context, id int64, nextAttempt time.Time, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
		StatusPending,
		nullableString(message),
		nextAttempt.UTC().Format(time.RFC3339Nano),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// CancelBatch marks the batch canceled and cancels its jobs that have not
// started. The in-flight job, if any, is left for the worker to observe the
// cancellation and stop cooperatively.
func (s *Store) CancelBatch(ctx context.Context, batchID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE batches SET canceled_at = ? WHERE id = ? AND canceled_at IS NULL`,
		now,
		batchID,
	); err != nil {
		return 0, fmt.Errorf("cancel batch: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, next_attempt_at = NULL, finished_at = ?, updated_at = ?
         WHERE batch_id = ? AND status = ?`,
		StatusCanceled,
		BatchCancelReason,
		now,
		now,
		batchID,
		StatusPending,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cancel tx: %w", err)
	}
	return affected, nil
}

// BatchCanceled reports whether the batch has been canceled. Unknown batches
// report false.
func (s *Store) BatchCanceled(ctx context.Context, batchID string) (bool, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return false, err
	}
	return batch != nil && batch.Canceled(), nil
}

// ListBatch returns the batch's jobs in submission order.
func (s *Store) ListBatch(ctx context.Context, batchID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE batch_id = ? ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batch jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), in submission order.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ActiveJobForRecord returns the record's pending or in-flight job, or nil.
func (s *Store) ActiveJobForRecord(ctx context.Context, recordID int64) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE record_id = ? AND status IN (?, ?) ORDER BY id LIMIT 1`,
		recordID,
		activeStatuses[0],
		activeStatuses[1],
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for record: %w", err)
	}
	return job, nil
}

// BatchProgress aggregates the batch's job counts by status.
func (s *Store) BatchProgress(ctx context.Context, batchID string) (BatchProgress, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, COUNT(1) FROM jobs WHERE batch_id = ? GROUP BY status`,
		batchID,
	)
	if err != nil {
		return BatchProgress{}, fmt.Errorf("batch progress: %w", err)
	}
	defer rows.Close()

	progress := BatchProgress{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return BatchProgress{}, err
		}
		progress.Total += count
		switch status {
		case StatusPending:
			progress.Pending += count
		case StatusInFlight:
			progress.InFlight += count
		case StatusSucceeded:
			progress.Succeeded += count
		case StatusFailed:
			progress.Failed += count
		case StatusCanceled:
			progress.Canceled += count
		case StatusReview:
			progress.Review += count
		}
	}
	return progress, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusInFlight:
			health.InFlight += count
		case StatusSucceeded:
			health.Succeeded += count
		case StatusFailed:
			health.Failed += count
		case StatusCanceled:
			health.Canceled += count
		case StatusReview:
			health.Review += count
		}
	}
	return health, nil
}

// ResetStuckInFlight returns in-flight jobs to pending, marking them with
// ShutdownReason. Run at daemon startup: a job left in flight means the
// previous process stopped mid-attempt.
func (s *Store) ResetStuckInFlight(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, started_at = NULL, next_attempt_at = NULL, updated_at = ?
         WHERE status = ?`,
		StatusPending,
		ShutdownReason,
		now,
		StatusInFlight,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryJobs moves failed and review jobs back to pending with a fresh
// attempt budget. With no IDs, every failed and review job is retried.
func (s *Store) RetryJobs(ctx context.Context, ids ...int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	setClause := `SET status = ?, attempts = 0, error_message = NULL, next_attempt_at = NULL,
             started_at = NULL, finished_at = NULL, updated_at = ?`

	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs `+setClause+` WHERE status IN (?, ?)`,
			StatusPending,
			now,
			StatusFailed,
			StatusReview,
		)
		if err != nil {
			return 0, fmt.Errorf("retry jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+4)
	args = append(args, StatusPending, now, StatusFailed, StatusReview)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs `+setClause+` WHERE status IN (?, ?) AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearFinished removes jobs in terminal states, keeping pending, in-flight
// and review jobs.
func (s *Store) ClearFinished(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?)`,
		StatusSucceeded,
		StatusFailed,
		StatusCanceled,
	)
	if err != nil {
		return 0, fmt.Errorf("clear finished: %w", err)
	}
	return res.RowsAffected()
}

const jobColumns = "id, batch_id, record_id, status, attempts, error_message, match_score, next_attempt_at, started_at, finished_at, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id             int64
		batchID        string
		recordID       int64
		statusStr      string
		attempts       int
		errorMessage   sql.NullString
		matchScore     sql.NullInt64
		nextAttemptRaw sql.NullString
		startedRaw     sql.NullString
		finishedRaw    sql.NullString
		createdRaw     string
		updatedRaw     string
	)

	if err := scanner.Scan(
		&id,
		&batchID,
		&recordID,
		&statusStr,
		&attempts,
		&errorMessage,
		&matchScore,
		&nextAttemptRaw,
		&startedRaw,
		&finishedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		BatchID:      batchID,
		RecordID:     recordID,
		Status:       Status(statusStr),
		Attempts:     attempts,
		ErrorMessage: errorMessage.String,
		MatchScore:   int(matchScore.Int64),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	job.NextAttemptAt = parseOptionalTime(nextAttemptRaw)
	job.StartedAt = parseOptionalTime(startedRaw)
	job.FinishedAt = parseOptionalTime(finishedRaw)
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func parseOptionalTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
