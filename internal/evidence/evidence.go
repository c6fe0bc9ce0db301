package evidence

import "unicode/utf8"

// Origin tells the validator where an item was retrieved from. Scoring is
// origin-agnostic; the field exists for provenance only.
type Origin string

const (
	OriginDocument Origin = "document"
	OriginWeb      Origin = "web"
)

// Item is a candidate source produced by a retrieval call. Items are
// immutable once created; the validator returns a filtered copy of the
// slice, never mutated elements.
type Item struct {
	SourceID    string  `json:"source_id"`
	Title       string  `json:"title,omitempty"`
	Excerpt     string  `json:"excerpt"`
	Origin      Origin  `json:"origin"`
	Locator     string  `json:"locator"`
	Credibility float64 `json:"credibility_score"`
	Relevance   float64 `json:"relevance_score"`
}

// Citation references a validated item in a final answer. It points at the
// item it derives from but does not own it.
type Citation struct {
	SourceID string `json:"source_id"`
	Locator  string `json:"locator"`
	Excerpt  string `json:"excerpt"`
}

// Cite builds the citation for a validated item. Excerpts are truncated on
// a rune boundary so a citation is always valid UTF-8.
func Cite(item Item) Citation {
	return Citation{
		SourceID: item.SourceID,
		Locator:  item.Locator,
		Excerpt:  truncateRunes(item.Excerpt, 300),
	}
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
