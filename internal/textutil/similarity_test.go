package textutil

import "testing"

func TestSimilarityIdenticalTokens(t *testing.T) {
	if got := Similarity("The Left Hand of Darkness", "the left hand of darkness"); got != 100 {
		t.Fatalf("identical titles should score 100, got %d", got)
	}
}

func TestSimilarityWordOrderInsensitive(t *testing.T) {
	if got := Similarity("Darkness of the Left Hand", "The Left Hand of Darkness"); got != 100 {
		t.Fatalf("reordered tokens should still score 100, got %d", got)
	}
}

func TestSimilarityDisjoint(t *testing.T) {
	if got := Similarity("Dune", "Hamlet"); got != 0 {
		t.Fatalf("disjoint titles should score 0, got %d", got)
	}
}

func TestSimilarityPartialOverlap(t *testing.T) {
	got := Similarity("Harry Potter and the Chamber of Secrets", "Harry Potter and the Goblet of Fire")
	if got <= 0 || got >= 100 {
		t.Fatalf("partial overlap should land strictly between 0 and 100, got %d", got)
	}
}

func TestSimilarityEmptyInput(t *testing.T) {
	if got := Similarity("", "Dune"); got != 0 {
		t.Fatalf("empty input should score 0, got %d", got)
	}
}

func TestTokenizeKeepsShortTitleWords(t *testing.T) {
	tokens := Tokenize("It")
	if len(tokens) != 1 || tokens[0] != "it" {
		t.Fatalf("two-letter words must survive tokenization, got %v", tokens)
	}
}

func TestNormalizeISBN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"978-0-12345-678-9", "9780123456789"},
		{"9780123456789", "9780123456789"},
		{"0 306 40615 2", "0306406152"},
		{"043942089x", "043942089X"},
		{"no digits here", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizeISBN(tc.in); got != tc.want {
			t.Errorf("NormalizeISBN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestISBNEqual(t *testing.T) {
	if !ISBNEqual("978-0-12345-678-9", "9780123456789") {
		t.Fatal("hyphenated and bare forms must compare equal")
	}
	if ISBNEqual("", "") {
		t.Fatal("empty ISBNs must never match")
	}
}
