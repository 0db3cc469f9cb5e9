package ports

import "context"

// SearchResult is one ranked document from the search provider.
type SearchResult struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// Searcher answers a natural-language query with ranked documents.
// Fails with domain.ErrRateLimited or domain.ErrUnavailable.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}
