package enrichment

import (
	"strings"

	"shelf/internal/catalog"
	"shelf/internal/library"
	"shelf/internal/textutil"
)

// ApplyCandidate copies provider metadata into record, filling only fields
// that are currently empty. Existing values always win: enrichment completes
// records, it never overwrites what a librarian or earlier run put there.
// Returns true when at least one field changed.
func ApplyCandidate(record *library.Record, candidate catalog.Candidate) bool {
	changed := false

	if strings.TrimSpace(record.ISBN) == "" && strings.TrimSpace(candidate.ISBN) != "" {
		record.ISBN = strings.TrimSpace(candidate.ISBN)
		changed = true
	} else if !recordHasISBN(record, candidate.ISBN) {
		record.SecondaryISBNs = append(record.SecondaryISBNs, strings.TrimSpace(candidate.ISBN))
		changed = true
	}

	if strings.TrimSpace(record.CoverURL) == "" && strings.TrimSpace(candidate.CoverURL) != "" {
		record.CoverURL = strings.TrimSpace(candidate.CoverURL)
		changed = true
	}
	if strings.TrimSpace(record.Publisher) == "" && strings.TrimSpace(candidate.Publisher) != "" {
		record.Publisher = TidyDisplayTitle(candidate.Publisher)
		changed = true
	}
	if record.PublicationYear == 0 && candidate.PublicationYear != 0 {
		record.PublicationYear = candidate.PublicationYear
		changed = true
	}
	if len(record.Genres) == 0 && len(candidate.Genres) > 0 {
		record.Genres = append([]string(nil), candidate.Genres...)
		changed = true
	}

	for _, author := range candidate.Authors {
		if strings.TrimSpace(author) == "" || record.HasAuthor(author) {
			continue
		}
		record.Authors = append(record.Authors, strings.TrimSpace(author))
		changed = true
	}

	return changed
}

// MergeRecords folds the duplicate record dup into existing, filling
// existing's empty fields and collecting dup's ISBNs as secondary ISBNs.
// Returns true when existing changed. The caller removes dup afterwards.
func MergeRecords(existing, dup *library.Record) bool {
	changed := false

	for _, isbn := range dup.AllISBNs() {
		if recordHasISBN(existing, isbn) {
			continue
		}
		if strings.TrimSpace(existing.ISBN) == "" {
			existing.ISBN = strings.TrimSpace(isbn)
		} else {
			existing.SecondaryISBNs = append(existing.SecondaryISBNs, strings.TrimSpace(isbn))
		}
		changed = true
	}

	if strings.TrimSpace(existing.CoverURL) == "" && strings.TrimSpace(dup.CoverURL) != "" {
		existing.CoverURL = dup.CoverURL
		changed = true
	}
	if strings.TrimSpace(existing.Publisher) == "" && strings.TrimSpace(dup.Publisher) != "" {
		existing.Publisher = dup.Publisher
		changed = true
	}
	if existing.PublicationYear == 0 && dup.PublicationYear != 0 {
		existing.PublicationYear = dup.PublicationYear
		changed = true
	}
	if len(existing.Genres) == 0 && len(dup.Genres) > 0 {
		existing.Genres = append([]string(nil), dup.Genres...)
		changed = true
	}

	for _, author := range dup.Authors {
		if strings.TrimSpace(author) == "" || existing.HasAuthor(author) {
			continue
		}
		existing.Authors = append(existing.Authors, strings.TrimSpace(author))
		changed = true
	}

	return changed
}

// recordHasISBN reports whether record already carries isbn in any position,
// comparing normalized forms. An empty isbn counts as present so callers
// never append blanks.
func recordHasISBN(record *library.Record, isbn string) bool {
	normalized := textutil.NormalizeISBN(isbn)
	if normalized == "" {
		return true
	}
	for _, existing := range record.AllISBNs() {
		if textutil.NormalizeISBN(existing) == normalized {
			return true
		}
	}
	return false
}
