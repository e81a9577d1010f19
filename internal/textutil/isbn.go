package textutil

import "strings"

// NormalizeISBN strips hyphens and spaces and uppercases any check digit so
// "978-0-12345-678-9" and "9780123456789" compare equal. Returns "" when the
// input contains no digits at all.
func NormalizeISBN(isbn string) string {
	var b strings.Builder
	b.Grow(len(isbn))
	hasDigit := false
	for _, r := range isbn {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			// ISBN-10 check digit.
			b.WriteRune('X')
		case r == '-' || r == ' ':
			// separators dropped
		}
	}
	if !hasDigit {
		return ""
	}
	return b.String()
}

// ISBNEqual reports whether two ISBN strings identify the same edition once
// normalized. Empty inputs never match.
func ISBNEqual(a, b string) bool {
	na, nb := NormalizeISBN(a), NormalizeISBN(b)
	return na != "" && na == nb
}
