package library

import (
	"strings"
	"time"
)

// Record is a library book entry. Records typically start sparse (title and
// author only, from an import) and are completed by the enrichment pipeline.
type Record struct {
	ID              int64
	Title           string
	Authors         []string
	ISBN            string
	SecondaryISBNs  []string
	CoverURL        string
	Publisher       string
	PublicationYear int
	Genres          []string
	ErrorMessage    string
	EnrichedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a copy sharing no slices or pointers with the receiver.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Authors = append([]string(nil), r.Authors...)
	cp.SecondaryISBNs = append([]string(nil), r.SecondaryISBNs...)
	cp.Genres = append([]string(nil), r.Genres...)
	if r.EnrichedAt != nil {
		enrichedAt := *r.EnrichedAt
		cp.EnrichedAt = &enrichedAt
	}
	return &cp
}

// PrimaryAuthor returns the first author, or "" for an author-less record.
func (r *Record) PrimaryAuthor() string {
	if len(r.Authors) == 0 {
		return ""
	}
	return r.Authors[0]
}

// AllISBNs returns the primary ISBN followed by any secondary ISBNs,
// skipping empties.
func (r *Record) AllISBNs() []string {
	isbns := make([]string, 0, 1+len(r.SecondaryISBNs))
	if strings.TrimSpace(r.ISBN) != "" {
		isbns = append(isbns, r.ISBN)
	}
	for _, isbn := range r.SecondaryISBNs {
		if strings.TrimSpace(isbn) != "" {
			isbns = append(isbns, isbn)
		}
	}
	return isbns
}

// HasAuthor reports whether name matches any of the record's authors,
// case-insensitively.
func (r *Record) HasAuthor(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, author := range r.Authors {
		if strings.EqualFold(strings.TrimSpace(author), name) {
			return true
		}
	}
	return false
}
