// Package notifications carries progress out of the enrichment worker.
//
// The Hub fans structured progress events out to in-process subscribers
// (the IPC status stream). The Pusher sends batch-level summaries to an
// ntfy topic when one is configured; both surfaces are optional and never
// block the worker.
package notifications
