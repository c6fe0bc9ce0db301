package models

import "time"

type Document struct {
	ID         string
	Title      string
	Subject    string
	DocType    string
	Summary    string
	RawContent string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type DocumentChunk struct {
	ID         string
	DocID      string
	ChunkIndex int
	Text       string
	CreatedAt  time.Time
}

// TurnRecord is the audit row written once per finalized turn, mirroring
// what the thread store holds.
type TurnRecord struct {
	ID        string
	SessionID string
	Query     string
	Intent    string
	Success   bool
	ErrorKind string
	Summary   string
	Cancelled bool
	LatencyMS int
	CreatedAt time.Time
}

type TurnCitation struct {
	ID       int
	TurnID   string
	SourceID string
	Locator  string
	Excerpt  string
}

type FlashcardDeck struct {
	ID         string
	DocumentID string
	Name       string
	Difficulty string
	CardCount  int
	CreatedAt  time.Time
}

type FlashcardCard struct {
	ID        string
	DeckID    string
	CardType  string
	Front     string
	Back      string
	ClozeText string
	Question  string
	Choices   []string
	Answer    int
	CreatedAt time.Time
}
