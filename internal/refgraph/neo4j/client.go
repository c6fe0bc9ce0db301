package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/pkg/circuitbreaker"
	"github.com/study-agent/backend/pkg/logger"
	"github.com/study-agent/backend/pkg/retry"
)

// Client maintains the citation reference graph. Each session is a node;
// every source a turn cites is merged once and linked with a CITED edge, so
// "what have I already read on this" is one graph query.
type Client struct {
	driver      neo4j.DriverWithContext
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// Reference is one cited source as seen from a session.
type Reference struct {
	SourceID  string
	Locator   string
	Excerpt   string
	TimesUsed int64
	LastTurn  string
}

func NewClient(uri, username, password string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Reference graph client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "neo4j"})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// RecordCitations merges the session and source nodes and bumps the CITED
// edge for each citation. Re-citing a source increments times_used rather
// than duplicating the edge.
func (c *Client) RecordCitations(ctx context.Context, sessionID, turnID string, citations []evidence.Citation) error {
	if len(citations) == 0 {
		return nil
	}

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MERGE (s:Session {id: $session_id})
			ON CREATE SET s.created_at = timestamp()
			WITH s
			UNWIND $citations AS c
			MERGE (src:Source {id: c.source_id})
			ON CREATE SET src.locator = c.locator,
			              src.excerpt = c.excerpt,
			              src.created_at = timestamp()
			MERGE (s)-[r:CITED]->(src)
			ON CREATE SET r.times_used = 1
			ON MATCH SET r.times_used = r.times_used + 1
			SET r.last_turn = $turn_id,
			    r.last_cited_at = timestamp()
		`

		params := make([]map[string]interface{}, len(citations))
		for i, citation := range citations {
			params[i] = map[string]interface{}{
				"source_id": citation.SourceID,
				"locator":   citation.Locator,
				"excerpt":   citation.Excerpt,
			}
		}

		_, err := session.Run(ctx, query, map[string]interface{}{
			"session_id": sessionID,
			"turn_id":    turnID,
			"citations":  params,
		})
		if err != nil {
			return fmt.Errorf("failed to record citations: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Citations recorded in reference graph",
		zap.String("session_id", sessionID),
		zap.Int("citations", len(citations)),
	)

	return nil
}

// ListReferences returns every source a session has cited, most used first.
func (c *Client) ListReferences(ctx context.Context, sessionID string) ([]Reference, error) {
	var references []Reference

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (s:Session {id: $session_id})-[r:CITED]->(src:Source)
			RETURN src.id, src.locator, src.excerpt, r.times_used, r.last_turn
			ORDER BY r.times_used DESC, src.id
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"session_id": sessionID,
		})
		if err != nil {
			return fmt.Errorf("failed to list references: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()

			sourceID, _ := record.Get("src.id")
			locator, _ := record.Get("src.locator")
			excerpt, _ := record.Get("src.excerpt")
			timesUsed, _ := record.Get("r.times_used")
			lastTurn, _ := record.Get("r.last_turn")

			reference := Reference{}
			if v, ok := sourceID.(string); ok {
				reference.SourceID = v
			}
			if v, ok := locator.(string); ok {
				reference.Locator = v
			}
			if v, ok := excerpt.(string); ok {
				reference.Excerpt = v
			}
			if v, ok := timesUsed.(int64); ok {
				reference.TimesUsed = v
			}
			if v, ok := lastTurn.(string); ok {
				reference.LastTurn = v
			}

			references = append(references, reference)
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating references: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return references, nil
}
