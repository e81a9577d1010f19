package enrichment

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// seriesMarkerPattern matches parenthesized series markers like "(Stormlight Archive, #2)".
	seriesMarkerPattern = regexp.MustCompile(`\([^()]*,\s*#\d+[^()]*\)`)
	// editionMarkerPattern matches bracketed edition markers like "[Special Edition]".
	editionMarkerPattern = regexp.MustCompile(`\[[^\[\]]*\]`)
	// abbreviationPattern matches short capitalized abbreviations like "Dept." or "Mr.".
	abbreviationPattern = regexp.MustCompile(`\b([A-Z][A-Za-z]{0,3})\.`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
)

// subtitleMinPrefix is the minimum length the text before a colon must have
// for the remainder to be treated as a droppable subtitle. Shorter prefixes
// ("Dune: Messiah") are usually part of the title itself.
const subtitleMinPrefix = 10

// Normalize cleans a raw title into a search-optimized form. The raw title
// is always retained elsewhere for display; only the normalized form is used
// as the catalog search key. Series and edition noise in raw titles
// measurably reduces provider recall.
func Normalize(rawTitle string) string {
	title := seriesMarkerPattern.ReplaceAllString(rawTitle, " ")
	title = editionMarkerPattern.ReplaceAllString(title, " ")

	if idx := strings.Index(title, ":"); idx > subtitleMinPrefix {
		title = title[:idx]
	}

	title = abbreviationPattern.ReplaceAllString(title, "$1")
	title = whitespacePattern.ReplaceAllString(title, " ")
	return strings.TrimSpace(title)
}

var titleCaser = cases.Title(language.English)

// TidyDisplayTitle cleans up shouting provider titles ("THE MARTIAN") into
// title case for display. Mixed-case titles pass through untouched.
func TidyDisplayTitle(title string) string {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return trimmed
	}
	if trimmed != strings.ToUpper(trimmed) {
		return trimmed
	}
	if strings.ToLower(trimmed) == trimmed {
		// No letters at all (e.g. "1984").
		return trimmed
	}
	return titleCaser.String(strings.ToLower(trimmed))
}
