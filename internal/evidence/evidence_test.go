package evidence

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCiteTruncatesLongExcerpt(t *testing.T) {
	item := Item{
		SourceID: "doc-1",
		Excerpt:  strings.Repeat("x", 500),
		Locator:  "doc-1",
	}

	citation := Cite(item)
	if len(citation.Excerpt) != 300 {
		t.Fatalf("expected 300-byte excerpt, got %d", len(citation.Excerpt))
	}
	if citation.SourceID != "doc-1" || citation.Locator != "doc-1" {
		t.Fatalf("citation lost provenance: %+v", citation)
	}
}

func TestCiteKeepsShortExcerptIntact(t *testing.T) {
	item := Item{SourceID: "doc-1", Excerpt: "short excerpt", Locator: "p1"}

	citation := Cite(item)
	if citation.Excerpt != "short excerpt" {
		t.Fatalf("short excerpt must pass through unchanged, got %q", citation.Excerpt)
	}
}

func TestCiteTruncatesOnRuneBoundary(t *testing.T) {
	// A multibyte rune straddles the 300-byte cap; the cut must land on the
	// rune's start so the excerpt stays valid UTF-8.
	item := Item{
		SourceID: "doc-1",
		Excerpt:  strings.Repeat("a", 299) + "日本語",
		Locator:  "doc-1",
	}

	citation := Cite(item)
	if !utf8.ValidString(citation.Excerpt) {
		t.Fatalf("excerpt is not valid UTF-8: %q", citation.Excerpt)
	}
	if len(citation.Excerpt) != 299 {
		t.Fatalf("expected cut before the split rune at 299 bytes, got %d", len(citation.Excerpt))
	}
}
