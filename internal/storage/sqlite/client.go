package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/storage/models"
	"github.com/study-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		subject TEXT,
		doc_type TEXT,
		summary TEXT,
		raw_content TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_subject ON documents(subject);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		query TEXT NOT NULL,
		intent TEXT,
		success INTEGER NOT NULL,
		error_kind TEXT,
		summary TEXT,
		cancelled INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);

	CREATE TABLE IF NOT EXISTS turn_citations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		locator TEXT,
		excerpt TEXT,
		FOREIGN KEY (turn_id) REFERENCES turns(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_citations_turn ON turn_citations(turn_id);

	CREATE TABLE IF NOT EXISTS flashcard_decks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		name TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		card_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decks_document ON flashcard_decks(document_id);

	CREATE TABLE IF NOT EXISTS flashcard_cards (
		id TEXT PRIMARY KEY,
		deck_id TEXT NOT NULL,
		card_type TEXT NOT NULL,
		front TEXT,
		back TEXT,
		cloze_text TEXT,
		question TEXT,
		choices TEXT,
		answer INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (deck_id) REFERENCES flashcard_decks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_cards_deck ON flashcard_cards(deck_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO documents (id, title, subject, doc_type, summary, raw_content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Subject, doc.DocType, doc.Summary, doc.RawContent,
		doc.CreatedAt.Unix(), doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, title, subject, doc_type, summary, raw_content, created_at, updated_at
		FROM documents WHERE id = ?`, id)

	var doc models.Document
	var createdAt, updatedAt int64
	err := row.Scan(&doc.ID, &doc.Title, &doc.Subject, &doc.DocType, &doc.Summary,
		&doc.RawContent, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

// GetDocumentContent returns the raw text for a document, or "" when the
// document does not exist. Absence is not an error.
func (c *Client) GetDocumentContent(ctx context.Context, id string) (string, error) {
	row := c.db.QueryRowContext(ctx, `SELECT raw_content FROM documents WHERE id = ?`, id)

	var content string
	err := row.Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get document content: %w", err)
	}
	return content, nil
}

func (c *Client) InsertChunks(chunks []models.DocumentChunk) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO document_chunks (id, doc_id, chunk_index, text, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if _, err := stmt.Exec(chunk.ID, chunk.DocID, chunk.ChunkIndex, chunk.Text, chunk.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

func (c *Client) InsertTurn(record *models.TurnRecord) error {
	_, err := c.db.Exec(`
		INSERT INTO turns (id, session_id, query, intent, success, error_kind, summary, cancelled, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.SessionID, record.Query, record.Intent,
		boolToInt(record.Success), record.ErrorKind, record.Summary,
		boolToInt(record.Cancelled), record.LatencyMS, record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

func (c *Client) InsertTurnCitations(turnID string, citations []models.TurnCitation) error {
	if len(citations) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO turn_citations (turn_id, source_id, locator, excerpt)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare citation insert: %w", err)
	}
	defer stmt.Close()

	for _, citation := range citations {
		if _, err := stmt.Exec(turnID, citation.SourceID, citation.Locator, citation.Excerpt); err != nil {
			return fmt.Errorf("failed to insert citation: %w", err)
		}
	}

	return tx.Commit()
}

func (c *Client) ListTurns(ctx context.Context, sessionID string, limit int) ([]models.TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, session_id, query, intent, success, error_kind, summary, cancelled, latency_ms, created_at
		FROM turns WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var records []models.TurnRecord
	for rows.Next() {
		var record models.TurnRecord
		var success, cancelled int
		var createdAt int64
		err := rows.Scan(&record.ID, &record.SessionID, &record.Query, &record.Intent,
			&success, &record.ErrorKind, &record.Summary, &cancelled, &record.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		record.Success = success == 1
		record.Cancelled = cancelled == 1
		record.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, record)
	}

	return records, rows.Err()
}

// InsertDeck writes a deck and its cards in one transaction so a partial
// deck is never visible.
func (c *Client) InsertDeck(deck *models.FlashcardDeck, cards []models.FlashcardCard) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO flashcard_decks (id, document_id, name, difficulty, card_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		deck.ID, deck.DocumentID, deck.Name, deck.Difficulty, deck.CardCount, deck.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert deck: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO flashcard_cards (id, deck_id, card_type, front, back, cloze_text, question, choices, answer, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare card insert: %w", err)
	}
	defer stmt.Close()

	for _, card := range cards {
		choicesJSON, err := json.Marshal(card.Choices)
		if err != nil {
			return fmt.Errorf("failed to marshal choices: %w", err)
		}
		_, err = stmt.Exec(card.ID, deck.ID, card.CardType, card.Front, card.Back,
			card.ClozeText, card.Question, string(choicesJSON), card.Answer, card.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert card: %w", err)
		}
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
