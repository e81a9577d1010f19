package enrichment

import (
	"strings"

	"shelf/internal/catalog"
	"shelf/internal/library"
)

// Candidate scoring weights. A normalized-title match outweighs a raw-title
// match because raw titles still carry series/edition noise.
const (
	pointsTitleExactNormalized   = 100
	pointsTitlePartialNormalized = 50
	pointsTitleExactRaw          = 30
	pointsTitlePartialRaw        = 15
	pointsAuthorExact            = 50
	pointsAuthorPartial          = 25
	pointsHasISBN                = 10
	pointsHasCover               = 5
)

// DefaultAcceptThreshold is the canonical minimum score a candidate must
// reach to be accepted as a match.
const DefaultAcceptThreshold = 50

// Target captures the fields of a record a candidate is scored against.
type Target struct {
	RawTitle        string
	NormalizedTitle string
	Author          string
}

// TargetFor derives the scoring target from a library record.
func TargetFor(record *library.Record) Target {
	return Target{
		RawTitle:        record.Title,
		NormalizedTitle: Normalize(record.Title),
		Author:          record.PrimaryAuthor(),
	}
}

// Score rates a provider candidate against a target record. Deterministic
// and additive: the title is scored once against the normalized title and
// once against the raw title, the candidate's primary author against the
// target author, plus small bonuses for carrying an ISBN and a cover image.
func Score(candidate catalog.Candidate, target Target) int {
	score := 0

	candidateTitle := strings.ToLower(strings.TrimSpace(candidate.Title))
	normalized := strings.ToLower(strings.TrimSpace(target.NormalizedTitle))
	raw := strings.ToLower(strings.TrimSpace(target.RawTitle))

	switch {
	case candidateTitle != "" && candidateTitle == normalized:
		score += pointsTitleExactNormalized
	case overlaps(candidateTitle, normalized):
		score += pointsTitlePartialNormalized
	}

	switch {
	case candidateTitle != "" && candidateTitle == raw:
		score += pointsTitleExactRaw
	case overlaps(candidateTitle, raw):
		score += pointsTitlePartialRaw
	}

	candidateAuthor := strings.ToLower(strings.TrimSpace(candidate.PrimaryAuthor()))
	targetAuthor := strings.ToLower(strings.TrimSpace(target.Author))
	switch {
	case candidateAuthor != "" && candidateAuthor == targetAuthor:
		score += pointsAuthorExact
	case overlaps(candidateAuthor, targetAuthor):
		score += pointsAuthorPartial
	}

	if strings.TrimSpace(candidate.ISBN) != "" {
		score += pointsHasISBN
	}
	if strings.TrimSpace(candidate.CoverURL) != "" {
		score += pointsHasCover
	}

	return score
}

// Selection describes the outcome of scoring a candidate list.
type Selection struct {
	Candidate catalog.Candidate
	Score     int
	// Ambiguous is set when another candidate also cleared the threshold
	// within the margin of the winner.
	Ambiguous bool
}

// SelectBest scores every candidate and returns the highest scorer when it
// clears threshold. The boolean result is false when no candidate qualifies.
func SelectBest(candidates []catalog.Candidate, target Target, threshold, margin int) (Selection, bool) {
	bestScore := -1
	secondScore := -1
	var best catalog.Candidate

	for _, candidate := range candidates {
		score := Score(candidate, target)
		if score > bestScore {
			secondScore = bestScore
			bestScore = score
			best = candidate
		} else if score > secondScore {
			secondScore = score
		}
	}

	if bestScore < 0 || bestScore <= threshold {
		return Selection{}, false
	}

	selection := Selection{Candidate: best, Score: bestScore}
	if secondScore > threshold && bestScore-secondScore < margin {
		selection.Ambiguous = true
	}
	return selection, true
}

// overlaps reports whether either non-empty string contains the other.
func overlaps(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
