// Package services defines the error taxonomy shared by external
// collaborators (catalog provider, ntfy) and the queue worker.
//
// Errors are tagged with sentinel markers via Wrap so the worker can map a
// failure to a queue transition without inspecting message text: Retryable
// errors return a job to pending with backoff, everything else fails it
// permanently. RateLimitError additionally carries the provider's wait hint.
package services
