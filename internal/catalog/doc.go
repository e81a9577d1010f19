// Package catalog implements the HTTP client for the external book metadata
// provider.
//
// The provider contract is a single search endpoint returning a JSON
// envelope {success, results, error}. The client maps transport and
// envelope failures onto the services error taxonomy: 429 and 503 become
// retryable markers (429 carrying the provider's Retry-After hint), 404 and
// other 4xx become permanent ones. A token-bucket limiter throttles
// requests client-side because the provider enforces a shared per-caller
// rate limit.
package catalog
