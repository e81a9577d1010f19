package ipc

import (
	"time"

	"shelf/internal/library"
	"shelf/internal/notifications"
	"shelf/internal/queue"
)

// StartRequest triggers enrichment processing.
type StartRequest struct{}

// StartResponse indicates whether processing was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops enrichment processing.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and queue status information.
type StatusResponse struct {
	Running       bool   `json:"running"`
	PID           int    `json:"pid"`
	LastError     string `json:"last_error"`
	LibraryDBPath string `json:"library_db_path"`
	QueueDBPath   string `json:"queue_db_path"`
	LockPath      string `json:"lock_path"`
	Records       int    `json:"records"`
	Queue         Health `json:"queue"`
}

// Health reports aggregate job counts.
type Health struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InFlight  int `json:"in_flight"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
	Review    int `json:"review"`
}

func healthFromSummary(summary queue.HealthSummary) Health {
	return Health{
		Total:     summary.Total,
		Pending:   summary.Pending,
		InFlight:  summary.InFlight,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Canceled:  summary.Canceled,
		Review:    summary.Review,
	}
}

// Record is the wire form of a library record.
type Record struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Authors         []string   `json:"authors"`
	ISBN            string     `json:"isbn"`
	SecondaryISBNs  []string   `json:"secondary_isbns"`
	CoverURL        string     `json:"cover_url"`
	Publisher       string     `json:"publisher"`
	PublicationYear int        `json:"publication_year"`
	Genres          []string   `json:"genres"`
	ErrorMessage    string     `json:"error_message"`
	EnrichedAt      *time.Time `json:"enriched_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func recordFromLibrary(record *library.Record) Record {
	return Record{
		ID:              record.ID,
		Title:           record.Title,
		Authors:         record.Authors,
		ISBN:            record.ISBN,
		SecondaryISBNs:  record.SecondaryISBNs,
		CoverURL:        record.CoverURL,
		Publisher:       record.Publisher,
		PublicationYear: record.PublicationYear,
		Genres:          record.Genres,
		ErrorMessage:    record.ErrorMessage,
		EnrichedAt:      record.EnrichedAt,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

// Job is the wire form of a queue job.
type Job struct {
	ID            int64      `json:"id"`
	BatchID       string     `json:"batch_id"`
	RecordID      int64      `json:"record_id"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	ErrorMessage  string     `json:"error_message"`
	MatchScore    int        `json:"match_score"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func jobFromQueue(job *queue.Job) Job {
	return Job{
		ID:            job.ID,
		BatchID:       job.BatchID,
		RecordID:      job.RecordID,
		Status:        string(job.Status),
		Attempts:      job.Attempts,
		ErrorMessage:  job.ErrorMessage,
		MatchScore:    job.MatchScore,
		NextAttemptAt: job.NextAttemptAt,
		StartedAt:     job.StartedAt,
		FinishedAt:    job.FinishedAt,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}

// RecordListRequest fetches library records.
type RecordListRequest struct{}

// RecordListResponse contains library records.
type RecordListResponse struct {
	Records []Record `json:"records"`
}

// RecordAddRequest inserts a single record.
type RecordAddRequest struct {
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	ISBN            string   `json:"isbn"`
	PublicationYear int      `json:"publication_year"`
}

// RecordAddResponse returns the inserted record.
type RecordAddResponse struct {
	Record Record `json:"record"`
}

// RecordRemoveRequest deletes a record by id.
type RecordRemoveRequest struct {
	ID int64 `json:"id"`
}

// RecordRemoveResponse reports whether a record was deleted.
type RecordRemoveResponse struct {
	Removed bool `json:"removed"`
}

// ImportRequest loads records from a CSV file on the daemon host.
type ImportRequest struct {
	Path string `json:"path"`
}

// ImportResponse reports import counts.
type ImportResponse struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// EnqueueRequest queues records for enrichment. An empty ID list queues
// every record that has not been enriched yet.
type EnqueueRequest struct {
	IDs  []int64 `json:"ids"`
	Note string  `json:"note"`
}

// EnqueueResponse reports the created batch.
type EnqueueResponse struct {
	BatchID  string  `json:"batch_id"`
	Enqueued []int64 `json:"enqueued"`
	Skipped  []int64 `json:"skipped"`
}

// JobListRequest filters jobs by batch and status.
type JobListRequest struct {
	BatchID  string   `json:"batch_id"`
	Statuses []string `json:"statuses"`
}

// JobListResponse contains queue jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// BatchProgressRequest fetches per-status counts for a batch.
type BatchProgressRequest struct {
	BatchID string `json:"batch_id"`
}

// BatchProgressResponse reports batch progress.
type BatchProgressResponse struct {
	Total     int  `json:"total"`
	Pending   int  `json:"pending"`
	InFlight  int  `json:"in_flight"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Canceled  int  `json:"canceled"`
	Review    int  `json:"review"`
	Done      bool `json:"done"`
}

// CancelRequest cancels a batch's remaining jobs.
type CancelRequest struct {
	BatchID string `json:"batch_id"`
}

// CancelResponse reports the number of jobs canceled immediately.
type CancelResponse struct {
	Canceled int64 `json:"canceled"`
}

// RetryRequest retries failed and review jobs. Empty list means all.
type RetryRequest struct {
	IDs []int64 `json:"ids"`
}

// RetryResponse reports number of retried jobs.
type RetryResponse struct {
	Updated int64 `json:"updated"`
}

// ResetRequest returns in-flight jobs to pending.
type ResetRequest struct{}

// ResetResponse reports number of jobs reset.
type ResetResponse struct {
	Updated int64 `json:"updated"`
}

// ClearFinishedRequest removes finished jobs.
type ClearFinishedRequest struct{}

// ClearFinishedResponse reports number of removed jobs.
type ClearFinishedResponse struct {
	Removed int64 `json:"removed"`
}

// ProgressTailRequest fetches progress events after a cursor. A positive
// WaitMillis blocks until new events arrive or the wait elapses.
type ProgressTailRequest struct {
	Cursor     int64 `json:"cursor"`
	WaitMillis int   `json:"wait_millis"`
}

// ProgressEvent is a recorded progress event with its cursor.
type ProgressEvent struct {
	Seq   int64               `json:"seq"`
	Event notifications.Event `json:"event"`
}

// ProgressTailResponse returns progress events and the next cursor.
type ProgressTailResponse struct {
	Events []ProgressEvent `json:"events"`
	Cursor int64           `json:"cursor"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
