// Package search adapts the Tavily search API to the ports.Searcher
// contract used by the research loop.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

const (
	defaultBaseURL = "https://api.tavily.com"
	searchPath     = "/search"
	maxRetries     = 2
	baseBackoff    = time.Second
)

// Client implements ports.Searcher against Tavily.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// New creates a search client.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search runs one query and returns ranked documents.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]ports.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	body, err := json.Marshal(searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "advanced",
	})
	if err != nil {
		return nil, fmt.Errorf("search.Search: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(baseBackoff << (attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("search.Search: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("search.Search: %v: %w", err, domain.ErrUnavailable)
			continue
		}

		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("search.Search: throttled: %w", domain.ErrRateLimited)
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("search.Search: server error %d: %w", resp.StatusCode, domain.ErrUnavailable)
			continue
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("search.Search: client error %d: %s", resp.StatusCode, raw)
		}

		var sr searchResponse
		if err := json.Unmarshal(raw, &sr); err != nil {
			return nil, fmt.Errorf("search.Search: decode: %w", err)
		}

		results := make([]ports.SearchResult, 0, len(sr.Results))
		for _, r := range sr.Results {
			results = append(results, ports.SearchResult{
				Title:   r.Title,
				URL:     r.URL,
				Content: r.Content,
				Score:   r.Score,
			})
		}
		return results, nil
	}
	return nil, lastErr
}
