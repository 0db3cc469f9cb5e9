package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3devz/polytrader/internal/domain"
)

func TestGetMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/512329", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(validGammaMarket())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, srv.URL)
	m, err := c.GetMarket(context.Background(), "512329")
	require.NoError(t, err)
	assert.Equal(t, "Will the launch happen before March?", m.Question)
	assert.Equal(t, "111111", m.YesToken().TokenID)
}

func TestGetMarketNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, srv.URL)
	_, err := c.GetMarket(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestGetMarketRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(validGammaMarket())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, srv.URL)
	m, err := c.GetMarket(context.Background(), "512329")
	require.NoError(t, err)
	assert.Equal(t, "512329", m.MarketID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetMarketClientErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad id"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, srv.URL)
	_, err := c.GetMarket(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
	assert.Contains(t, err.Error(), "client error 400")
	// 4xx other than 404 and 429 never retries.
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchOrderBooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, booksPath, r.URL.Path)

		var body []orderBookRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		resp := make([]orderBookResponse, 0, len(body))
		for _, req := range body {
			resp = append(resp, orderBookResponse{
				AssetID: req.TokenID,
				Bids:    []bookEntryRaw{{Price: "0.61", Size: "200"}},
				Asks:    []bookEntryRaw{{Price: "0.63", Size: "150"}},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, srv.URL)
	books, err := c.FetchOrderBooks(context.Background(), []string{"111111", "222222"})
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.InDelta(t, 0.61, books["111111"].BestBid(), 1e-9)
	assert.InDelta(t, 0.63, books["222222"].BestAsk(), 1e-9)
}

func TestFetchOrderBooksEmptyInput(t *testing.T) {
	c := NewClient("http://unused.invalid", "", "")
	books, err := c.FetchOrderBooks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestFetchTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tradesPath, r.URL.Path)
		assert.Equal(t, "111111", r.URL.Query().Get("asset"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]rawDataTrade{
			{ID: "t1", Asset: "111111", Side: "BUY", Price: json.Number("0.62"), Size: json.Number("10"), Timestamp: json.Number("1770724800")},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, srv.URL)
	trades, err := c.FetchTrades(context.Background(), "111111", 50)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t1", trades[0].ID)
}
