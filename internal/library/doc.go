// Package library persists book records in SQLite.
//
// Records carry both the sparse fields an import provides (title, authors,
// maybe an ISBN) and the metadata enrichment fills in (cover, publisher,
// genres, publication year). The store assigns a stable identifier at
// creation; the enrichment pipeline addresses records only by that
// identifier and re-reads a record immediately before writing so concurrent
// edits are never clobbered.
package library
