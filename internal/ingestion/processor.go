package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/agent"
	"github.com/study-agent/backend/internal/docstore/milvus"
	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/metrics"
	"github.com/study-agent/backend/internal/storage/models"
	"github.com/study-agent/backend/pkg/logger"
	"github.com/study-agent/backend/pkg/utils"
)

const (
	maxChunkChars    = 1200
	sentenceOverlap  = 1
	webSourceDocType = "web_source"
)

type documentWriter interface {
	InsertDocument(doc *models.Document) error
	InsertChunks(chunks []models.DocumentChunk) error
	InsertDeck(deck *models.FlashcardDeck, cards []models.FlashcardCard) error
}

type vectorWriter interface {
	Insert(ctx context.Context, chunks []milvus.Chunk) error
}

type batchEmbedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentInput is one uploaded study document before processing.
type DocumentInput struct {
	Title   string
	Subject string
	DocType string
	Content string
}

// Processor turns uploaded material into retrievable chunks: clean, segment
// into sentence-aligned chunks, embed, index. It also fulfills the router's
// persistence requests, writing saved research sources through the same
// pipeline so they become retrievable like any uploaded document.
type Processor struct {
	store    documentWriter
	index    vectorWriter
	embedder batchEmbedder
}

func NewProcessor(store documentWriter, index vectorWriter, embedder batchEmbedder) *Processor {
	return &Processor{
		store:    store,
		index:    index,
		embedder: embedder,
	}
}

// IngestDocument processes one upload end to end and returns the new
// document id and the number of chunks indexed.
func (p *Processor) IngestDocument(ctx context.Context, input DocumentInput) (string, int, error) {
	if strings.TrimSpace(input.Content) == "" {
		return "", 0, fmt.Errorf("document content is empty")
	}
	if input.Title == "" {
		return "", 0, fmt.Errorf("document title is required")
	}

	content := input.Content
	if looksLikeHTML(content) {
		cleaned, err := stripMarkup(content)
		if err != nil {
			return "", 0, fmt.Errorf("failed to clean document markup: %w", err)
		}
		content = cleaned
	}

	// Content-addressed id: re-uploading the same material overwrites the
	// existing document instead of duplicating it.
	docID := utils.HashString(input.Title + "\x00" + content)
	now := time.Now()

	doc := &models.Document{
		ID:         docID,
		Title:      input.Title,
		Subject:    input.Subject,
		DocType:    input.DocType,
		RawContent: content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	texts := chunkSentences(content)
	if len(texts) == 0 {
		texts = []string{content}
	}

	embeddings, err := p.embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return "", 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(texts) {
		return "", 0, fmt.Errorf("embedding count mismatch: %d chunks, %d embeddings", len(texts), len(embeddings))
	}

	vectorChunks := make([]milvus.Chunk, len(texts))
	storeChunks := make([]models.DocumentChunk, len(texts))
	for i, text := range texts {
		chunkID := fmt.Sprintf("%s-%d", docID, i)
		vectorChunks[i] = milvus.Chunk{
			ID:         chunkID,
			Embedding:  embeddings[i],
			Text:       text,
			DocumentID: docID,
			Title:      input.Title,
			Section:    fmt.Sprintf("%d", i),
			Timestamp:  now,
		}
		storeChunks[i] = models.DocumentChunk{
			ID:         chunkID,
			DocID:      docID,
			ChunkIndex: i,
			Text:       text,
			CreatedAt:  now,
		}
	}

	if err := p.store.InsertDocument(doc); err != nil {
		return "", 0, fmt.Errorf("failed to store document: %w", err)
	}
	if err := p.store.InsertChunks(storeChunks); err != nil {
		return "", 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := p.index.Insert(ctx, vectorChunks); err != nil {
		return "", 0, fmt.Errorf("failed to index chunks: %w", err)
	}

	metrics.DocumentsIngested.Inc()
	metrics.ChunksIndexed.Add(float64(len(vectorChunks)))

	logger.Info("Document ingested",
		zap.String("document_id", docID),
		zap.String("title", input.Title),
		zap.Int("chunks", len(vectorChunks)),
	)

	return docID, len(vectorChunks), nil
}

// PersistResearch saves validated web sources as retrievable documents.
func (p *Processor) PersistResearch(ctx context.Context, items []evidence.Item) error {
	for _, item := range items {
		title := item.Title
		if title == "" {
			title = item.Locator
		}

		_, _, err := p.IngestDocument(ctx, DocumentInput{
			Title:   title,
			Subject: "research",
			DocType: webSourceDocType,
			Content: item.Excerpt,
		})
		if err != nil {
			return fmt.Errorf("failed to save source %s: %w", item.SourceID, err)
		}
	}

	logger.Info("Research sources saved", zap.Int("sources", len(items)))
	return nil
}

// PersistDeck writes a generated deck and its cards in one transaction.
func (p *Processor) PersistDeck(ctx context.Context, payload agent.FlashcardPayload) (string, error) {
	deckID := uuid.New().String()
	now := time.Now()

	deck := &models.FlashcardDeck{
		ID:         deckID,
		DocumentID: payload.DocumentID,
		Name:       fmt.Sprintf("Deck for %s", payload.DocumentID),
		Difficulty: payload.Difficulty,
		CardCount:  len(payload.Cards),
		CreatedAt:  now,
	}

	cards := make([]models.FlashcardCard, len(payload.Cards))
	for i, card := range payload.Cards {
		cards[i] = models.FlashcardCard{
			ID:        card.ID,
			DeckID:    deckID,
			CardType:  card.Type,
			Front:     card.Front,
			Back:      card.Back,
			ClozeText: card.ClozeText,
			Question:  card.Question,
			Choices:   card.Choices,
			Answer:    card.Answer,
			CreatedAt: now,
		}
	}

	if err := p.store.InsertDeck(deck, cards); err != nil {
		return "", fmt.Errorf("failed to persist deck: %w", err)
	}

	metrics.DecksPersisted.Inc()

	logger.Info("Flashcard deck persisted",
		zap.String("deck_id", deckID),
		zap.String("document_id", payload.DocumentID),
		zap.Int("cards", len(cards)),
	)

	return deckID, nil
}

func looksLikeHTML(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") || strings.Contains(lower, "<p>")
}

// stripMarkup drops chrome elements and returns readable text.
func stripMarkup(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header, aside").Remove()

	var builder strings.Builder
	doc.Find("h1, h2, h3, h4, p, li, td, pre").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			builder.WriteString(text)
			builder.WriteString("\n")
		}
	})

	text := strings.TrimSpace(builder.String())
	if text == "" {
		// No recognizable structure, fall back to the whole body text.
		text = strings.TrimSpace(doc.Text())
	}
	return text, nil
}

// chunkSentences groups sentences into chunks of at most maxChunkChars,
// carrying one sentence of overlap so context survives chunk boundaries.
func chunkSentences(content string) []string {
	doc, err := prose.NewDocument(content)
	if err != nil {
		logger.Warn("Sentence segmentation failed, falling back to paragraph split", zap.Error(err))
		return chunkParagraphs(content)
	}

	sentences := doc.Sentences()
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0

	for i := 0; i < len(sentences); i++ {
		text := strings.TrimSpace(sentences[i].Text)
		if text == "" {
			continue
		}

		if currentLen+len(text) > maxChunkChars && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			overlapStart := len(current) - sentenceOverlap
			if overlapStart < 0 {
				overlapStart = 0
			}
			current = append([]string{}, current[overlapStart:]...)
			currentLen = 0
			for _, s := range current {
				currentLen += len(s)
			}
		}

		current = append(current, text)
		currentLen += len(text)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

func chunkParagraphs(content string) []string {
	var chunks []string
	for _, paragraph := range strings.Split(content, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		for len(paragraph) > maxChunkChars {
			chunks = append(chunks, paragraph[:maxChunkChars])
			paragraph = paragraph[maxChunkChars:]
		}
		chunks = append(chunks, paragraph)
	}
	return chunks
}
