// Package enrichment holds the metadata matching core: title normalization
// for provider searches, deterministic candidate scoring, duplicate
// detection across the library, and the fill-only merge rules that complete
// sparse records without overwriting curated data.
//
// Everything here is pure computation over records and candidates except the
// duplicate detector, which scans the library store. The worker package
// drives these pieces as a pipeline.
package enrichment
