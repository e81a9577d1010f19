package notifications

import "time"

// EventType classifies progress events emitted by the enrichment worker.
type EventType string

const (
	EventBatchStarted   EventType = "batch_started"
	EventBatchCompleted EventType = "batch_completed"
	EventBatchCanceled  EventType = "batch_canceled"
	EventJobStarted     EventType = "job_started"
	EventJobSucceeded   EventType = "job_succeeded"
	EventJobFailed      EventType = "job_failed"
	EventJobRetrying    EventType = "job_retrying"
	EventJobReview      EventType = "job_review"
	EventJobCanceled    EventType = "job_canceled"
	EventJobMerged      EventType = "job_merged"
)

// Event is a single progress update. Completed and Total describe the
// owning batch at the time of the event.
type Event struct {
	Type      EventType `json:"type"`
	BatchID   string    `json:"batch_id,omitempty"`
	JobID     int64     `json:"job_id,omitempty"`
	RecordID  int64     `json:"record_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message,omitempty"`
	Score     int       `json:"score,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
