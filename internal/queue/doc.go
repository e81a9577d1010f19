// Package queue persists enrichment jobs and batches in SQLite.
//
// A job ties one library record to one pass through the enrichment
// pipeline. Jobs move pending -> in_flight -> succeeded, failed or
// canceled, with an optional review parking state for ambiguous matches.
// Retry backoff is stored as a next_attempt_at deadline so a job waiting
// out its delay never blocks fresh work behind it.
//
// The queue database is separate from the library database: losing the
// queue loses only in-progress bookkeeping, never catalog data.
package queue
