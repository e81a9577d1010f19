package enrichment

import (
	"context"
	"log/slog"
	"strings"

	"shelf/internal/library"
	"shelf/internal/logging"
	"shelf/internal/textutil"
)

// MatchKind identifies which duplicate-detection tier produced a match.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExactISBN
	MatchExactTitleAuthor
	MatchFuzzy
)

func (k MatchKind) String() string {
	switch k {
	case MatchExactISBN:
		return "exact_isbn"
	case MatchExactTitleAuthor:
		return "exact_title_author"
	case MatchFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// DuplicateMatch reports an existing record that duplicates a candidate.
// Similarity is only populated for fuzzy matches.
type DuplicateMatch struct {
	Kind       MatchKind
	RecordID   int64
	Similarity int
}

// None reports whether no duplicate was found.
func (m DuplicateMatch) None() bool { return m.Kind == MatchNone }

// DefaultFuzzyThreshold is the combined similarity (0-100) at or above which
// two records are treated as the same book.
const DefaultFuzzyThreshold = 80

// Fuzzy similarity weights title over author: titles are the stronger
// signal, but a shared author breaks ties between similarly named books.
const (
	fuzzyTitleWeight  = 7
	fuzzyAuthorWeight = 3
)

// Detector finds existing library records that duplicate a candidate record.
type Detector struct {
	store          *library.Store
	logger         *slog.Logger
	fuzzyThreshold int
}

// NewDetector constructs a duplicate detector over the library store.
func NewDetector(store *library.Store, logger *slog.Logger, fuzzyThreshold int) *Detector {
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = DefaultFuzzyThreshold
	}
	return &Detector{
		store:          store,
		logger:         logging.NewComponentLogger(logger, "dedupe"),
		fuzzyThreshold: fuzzyThreshold,
	}
}

// FindExisting checks whether candidate duplicates a record already in the
// library, evaluating three tiers in order: ISBN equality, exact
// title+author, then fuzzy similarity. The candidate's own row (matching ID)
// is skipped. Store failures are reported as no match: a missed merge is
// recoverable, a wrong merge corrupts the library.
func (d *Detector) FindExisting(ctx context.Context, candidate *library.Record) DuplicateMatch {
	if candidate == nil {
		return DuplicateMatch{}
	}

	candidateISBNs := normalizedISBNs(candidate)
	if len(candidateISBNs) == 0 && len(candidate.Authors) == 0 {
		// Nothing reliable to deduplicate on.
		return DuplicateMatch{}
	}

	existing, err := d.store.List(ctx)
	if err != nil {
		d.logger.Warn("duplicate scan failed, treating as no match",
			logging.Error(err),
			logging.String(logging.FieldEventType, "dedupe_scan_failed"),
			logging.String(logging.FieldErrorHint, "check library database access"),
		)
		return DuplicateMatch{}
	}

	others := make([]*library.Record, 0, len(existing))
	for _, record := range existing {
		if record.ID == candidate.ID {
			continue
		}
		others = append(others, record)
	}

	if len(candidateISBNs) > 0 {
		if match := matchByISBN(candidateISBNs, others); !match.None() {
			return match
		}
	}

	if len(candidate.Authors) == 0 {
		return DuplicateMatch{}
	}

	normalizedTitle := strings.ToLower(Normalize(candidate.Title))
	if match := matchByTitleAuthor(normalizedTitle, candidate, others); !match.None() {
		return match
	}

	return d.matchFuzzy(normalizedTitle, candidate, others)
}

func normalizedISBNs(record *library.Record) []string {
	var isbns []string
	for _, isbn := range record.AllISBNs() {
		if normalized := textutil.NormalizeISBN(isbn); normalized != "" {
			isbns = append(isbns, normalized)
		}
	}
	return isbns
}

func matchByISBN(candidateISBNs []string, others []*library.Record) DuplicateMatch {
	for _, record := range others {
		for _, existing := range record.AllISBNs() {
			normalized := textutil.NormalizeISBN(existing)
			if normalized == "" {
				continue
			}
			for _, isbn := range candidateISBNs {
				if isbn == normalized {
					return DuplicateMatch{Kind: MatchExactISBN, RecordID: record.ID}
				}
			}
		}
	}
	return DuplicateMatch{}
}

func matchByTitleAuthor(normalizedTitle string, candidate *library.Record, others []*library.Record) DuplicateMatch {
	if normalizedTitle == "" {
		return DuplicateMatch{}
	}
	for _, record := range others {
		if strings.ToLower(Normalize(record.Title)) != normalizedTitle {
			continue
		}
		if sharesAuthor(candidate, record) {
			return DuplicateMatch{Kind: MatchExactTitleAuthor, RecordID: record.ID}
		}
	}
	return DuplicateMatch{}
}

func (d *Detector) matchFuzzy(normalizedTitle string, candidate *library.Record, others []*library.Record) DuplicateMatch {
	best := DuplicateMatch{}
	for _, record := range others {
		titleSim := textutil.Similarity(normalizedTitle, Normalize(record.Title))
		authorSim := bestAuthorSimilarity(candidate, record)
		combined := (titleSim*fuzzyTitleWeight + authorSim*fuzzyAuthorWeight) / (fuzzyTitleWeight + fuzzyAuthorWeight)
		if combined >= d.fuzzyThreshold && combined > best.Similarity {
			best = DuplicateMatch{Kind: MatchFuzzy, RecordID: record.ID, Similarity: combined}
		}
	}
	return best
}

func sharesAuthor(a, b *library.Record) bool {
	for _, author := range a.Authors {
		if b.HasAuthor(author) {
			return true
		}
	}
	return false
}

func bestAuthorSimilarity(a, b *library.Record) int {
	best := 0
	for _, authorA := range a.Authors {
		for _, authorB := range b.Authors {
			if sim := textutil.Similarity(authorA, authorB); sim > best {
				best = sim
			}
		}
	}
	return best
}
