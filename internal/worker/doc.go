// Package worker runs the background enrichment loop.
//
// The Manager polls the job queue and processes one job at a time:
// normalize the record's title, search the catalog provider, score the
// candidates, deduplicate against the library, then merge the accepted
// metadata without overwriting existing values. Transient provider
// failures reschedule the job with doubling backoff; batch cancellation is
// observed between pipeline steps so an in-flight job stops at the next
// safe point.
package worker
