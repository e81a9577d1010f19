package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an enrichment job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusReview    Status = "review"
)

// BatchCancelReason is the error message set on jobs canceled with their batch.
const BatchCancelReason = "Batch canceled"

// ShutdownReason is the error message set on jobs interrupted by daemon shutdown.
const ShutdownReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusInFlight,
	StatusSucceeded,
	StatusFailed,
	StatusCanceled,
	StatusReview,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// activeStatuses are the states in which a record must not be enqueued again.
var activeStatuses = []Status{StatusPending, StatusInFlight}

// Job is one record's enrichment work item persisted in SQLite.
type Job struct {
	ID            int64
	BatchID       string
	RecordID      int64
	Status        Status
	Attempts      int
	ErrorMessage  string
	MatchScore    int
	NextAttemptAt *time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	switch j.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Due reports whether the job is eligible to run at now, honoring any
// retry backoff schedule.
func (j Job) Due(now time.Time) bool {
	if j.Status != StatusPending {
		return false
	}
	return j.NextAttemptAt == nil || !j.NextAttemptAt.After(now)
}

// Batch groups the jobs submitted by a single enqueue request.
type Batch struct {
	ID         string
	Note       string
	CreatedAt  time.Time
	CanceledAt *time.Time
}

// Canceled reports whether the batch has been canceled.
func (b Batch) Canceled() bool { return b.CanceledAt != nil }

// BatchProgress aggregates job counts for one batch.
type BatchProgress struct {
	Total     int
	Pending   int
	InFlight  int
	Succeeded int
	Failed    int
	Canceled  int
	Review    int
}

// Done reports whether no jobs in the batch remain runnable.
func (p BatchProgress) Done() bool { return p.Pending == 0 && p.InFlight == 0 }

// HealthSummary describes aggregated job counts across all batches.
type HealthSummary struct {
	Total     int
	Pending   int
	InFlight  int
	Succeeded int
	Failed    int
	Canceled  int
	Review    int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}
