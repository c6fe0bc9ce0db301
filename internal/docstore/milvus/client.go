package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/study-agent/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// Chunk is one embedded passage of a study document.
type Chunk struct {
	ID         string
	Embedding  []float32
	Text       string
	DocumentID string
	Title      string
	Section    string
	Timestamp  time.Time
}

type SearchResult struct {
	ChunkID    string
	Text       string
	DocumentID string
	Title      string
	Section    string
	Score      float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnsureCollection(ctx context.Context) error {
	has, err := c.client.HasCollection(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", c.collectionName))
		return c.client.LoadCollection(ctx, c.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: c.collectionName,
		Description:    "Study material embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", c.vectorDim)},
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "4096"},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "title",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       "section",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:     "timestamp",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := c.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := c.client.CreateIndex(ctx, c.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := c.client.LoadCollection(ctx, c.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created", zap.String("collection", c.collectionName))
	return nil
}

func (c *Client) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	documentIDs := make([]string, len(chunks))
	titles := make([]string, len(chunks))
	sections := make([]string, len(chunks))
	timestamps := make([]int64, len(chunks))

	for i, chunk := range chunks {
		ids[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = truncate(chunk.Text, 4096)
		documentIDs[i] = chunk.DocumentID
		titles[i] = truncate(chunk.Title, 512)
		sections[i] = truncate(chunk.Section, 128)
		timestamps[i] = chunk.Timestamp.Unix()
	}

	_, err := c.client.Insert(ctx, c.collectionName, "",
		entity.NewColumnVarChar("chunk_id", ids),
		entity.NewColumnFloatVector("embedding", c.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnVarChar("section", sections),
		entity.NewColumnInt64("timestamp", timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	logger.Info("Chunks inserted", zap.Int("count", len(chunks)))
	return nil
}

// Search returns the k nearest chunks, optionally restricted to one
// document. An empty result set is not an error.
func (c *Client) Search(ctx context.Context, embedding []float32, k int, documentID string) ([]SearchResult, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	expr := ""
	if documentID != "" {
		expr = fmt.Sprintf(`document_id == "%s"`, documentID)
	}

	results, err := c.client.Search(
		ctx,
		c.collectionName,
		nil,
		expr,
		[]string{"chunk_id", "text", "document_id", "title", "section"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.L2,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var hits []SearchResult
	for _, result := range results {
		chunkIDs := varcharColumn(result.Fields, "chunk_id")
		texts := varcharColumn(result.Fields, "text")
		documentIDs := varcharColumn(result.Fields, "document_id")
		titles := varcharColumn(result.Fields, "title")
		sections := varcharColumn(result.Fields, "section")

		for i := 0; i < result.ResultCount; i++ {
			hit := SearchResult{Score: result.Scores[i]}
			if chunkIDs != nil {
				hit.ChunkID, _ = chunkIDs.ValueByIdx(i)
			}
			if texts != nil {
				hit.Text, _ = texts.ValueByIdx(i)
			}
			if documentIDs != nil {
				hit.DocumentID, _ = documentIDs.ValueByIdx(i)
			}
			if titles != nil {
				hit.Title, _ = titles.ValueByIdx(i)
			}
			if sections != nil {
				hit.Section, _ = sections.ValueByIdx(i)
			}
			hits = append(hits, hit)
		}
	}

	logger.Debug("Vector search completed", zap.Int("hits", len(hits)))
	return hits, nil
}

func varcharColumn(fields []entity.Column, name string) *entity.ColumnVarChar {
	for _, field := range fields {
		if field.Name() == name {
			if col, ok := field.(*entity.ColumnVarChar); ok {
				return col
			}
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
