package docstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/docstore/milvus"
	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/pkg/logger"
)

// Uploaded study materials are the student's own sources, so document
// evidence gets a flat high credibility; relevance comes from vector
// distance.
const documentCredibility = 0.9

type embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type vectorIndex interface {
	Search(ctx context.Context, embedding []float32, k int, documentID string) ([]milvus.SearchResult, error)
}

type contentStore interface {
	GetDocumentContent(ctx context.Context, id string) (string, error)
}

// Service is the document store collaborator: vector retrieval over milvus
// plus raw content lookup from sqlite. Absence of a document yields empty
// results, never an error.
type Service struct {
	embedder embedder
	index    vectorIndex
	content  contentStore
}

func NewService(embedder embedder, index vectorIndex, content contentStore) *Service {
	return &Service{
		embedder: embedder,
		index:    index,
		content:  content,
	}
}

// Retrieve embeds the query and returns the k nearest passages as evidence
// items, optionally scoped to a single document.
func (s *Service) Retrieve(ctx context.Context, query string, k int, documentID string) ([]evidence.Item, error) {
	queryEmbedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, queryEmbedding, k, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	items := make([]evidence.Item, 0, len(hits))
	for _, hit := range hits {
		items = append(items, evidence.Item{
			SourceID:    hit.ChunkID,
			Title:       hit.Title,
			Excerpt:     hit.Text,
			Origin:      evidence.OriginDocument,
			Locator:     locator(hit),
			Credibility: documentCredibility,
			Relevance:   distanceToRelevance(hit.Score),
		})
	}

	logger.Debug("Document retrieval completed",
		zap.String("document_id", documentID),
		zap.Int("items", len(items)),
	)

	return items, nil
}

func (s *Service) GetContent(ctx context.Context, documentID string) (string, error) {
	return s.content.GetDocumentContent(ctx, documentID)
}

func locator(hit milvus.SearchResult) string {
	if hit.Section != "" {
		return fmt.Sprintf("%s#%s", hit.DocumentID, hit.Section)
	}
	return hit.DocumentID
}

// distanceToRelevance maps an L2 distance to (0,1], closer meaning more
// relevant.
func distanceToRelevance(distance float32) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1.0 / (1.0 + float64(distance))
}
