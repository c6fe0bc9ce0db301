package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/agent"
	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/metrics"
	"github.com/study-agent/backend/pkg/logger"
)

// Client is the web-search collaborator. Results come back in the same
// evidence shape as document retrieval so the validator stays
// origin-agnostic.
type Client struct {
	serpAPIKey string
	httpClient *http.Client
	maxResults int
}

func NewClient(serpAPIKey string, maxResults int, timeout time.Duration) *Client {
	if maxResults <= 0 {
		maxResults = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		serpAPIKey: serpAPIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxResults: maxResults,
	}
}

func (c *Client) Search(ctx context.Context, query string) ([]evidence.Item, error) {
	logger.Info("Performing web search", zap.String("query", query))
	metrics.WebSearchTriggered.Inc()

	baseURL := "https://serpapi.com/search"
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.serpAPIKey)
	params.Add("num", fmt.Sprintf("%d", c.maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s?%s", baseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search request failed: %v", agent.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search returned status %d", agent.ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}

	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	items := make([]evidence.Item, 0, len(searchResp.OrganicResults))
	for i, result := range searchResp.OrganicResults {
		if i >= c.maxResults {
			break
		}

		excerpt := result.Snippet
		if content, err := c.scrapeContent(ctx, result.Link); err == nil && content != "" {
			excerpt = content
		}

		items = append(items, evidence.Item{
			SourceID:    result.Link,
			Title:       result.Title,
			Excerpt:     excerpt,
			Origin:      evidence.OriginWeb,
			Locator:     result.Link,
			Credibility: credibilityForURL(result.Link),
			Relevance:   relevanceForRank(i),
		})
	}

	logger.Info("Web search completed", zap.Int("results", len(items)))
	return items, nil
}

func (c *Client) scrapeContent(ctx context.Context, urlStr string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())

	if len(text) > 2000 {
		text = text[:2000]
	}

	return text, nil
}

// credibilityForURL scores a source by its domain. Academic and reference
// domains rank above general web content; the validator makes the final
// cut.
func credibilityForURL(urlStr string) float64 {
	u, err := url.Parse(urlStr)
	if err != nil {
		return 0.4
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, ".edu"), strings.HasSuffix(host, ".gov"):
		return 0.95
	case strings.Contains(host, "wikipedia.org"):
		return 0.75
	case strings.HasSuffix(host, ".org"):
		return 0.8
	case strings.HasSuffix(host, ".ac.uk"):
		return 0.9
	default:
		return 0.6
	}
}

// relevanceForRank trusts the search engine's ordering with a gentle decay.
func relevanceForRank(rank int) float64 {
	relevance := 0.9 - 0.08*float64(rank)
	if relevance < 0.3 {
		relevance = 0.3
	}
	return relevance
}
