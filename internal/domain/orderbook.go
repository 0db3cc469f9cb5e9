package domain

import (
	"strconv"
	"time"
)

// OrderBook is the order book of a single token.
type OrderBook struct {
	TokenID string      `json:"token_id"`
	Bids    []BookEntry `json:"bids"` // sorted highest price first
	Asks    []BookEntry `json:"asks"` // sorted lowest price first
}

// BookEntry is one price level in the orderbook.
type BookEntry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Trade is a recent trade on a token, from the public data API.
type Trade struct {
	ID        string    `json:"id"`
	TokenID   string    `json:"token_id"`
	Side      string    `json:"side"` // "BUY" | "SELL"
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// BestBid returns the highest bid price, or 0 if the book is empty.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if the book is empty.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint returns the midpoint between best bid and best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread returns ask - bid, or 0 if either side is empty.
func (ob OrderBook) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// BidDepthUSDC returns the USDC value (size × price) resting on the bid side.
func (ob OrderBook) BidDepthUSDC() float64 {
	var total float64
	for _, b := range ob.Bids {
		total += b.Size * b.Price
	}
	return total
}

// AskDepthUSDC returns the USDC value (size × price) resting on the ask side.
func (ob OrderBook) AskDepthUSDC() float64 {
	var total float64
	for _, a := range ob.Asks {
		total += a.Size * a.Price
	}
	return total
}

// Imbalance returns (bidDepth - askDepth) / (bidDepth + askDepth) in USDC
// terms. Positive values mean buy-side pressure. Returns 0 for empty books.
func (ob OrderBook) Imbalance() float64 {
	bid := ob.BidDepthUSDC()
	ask := ob.AskDepthUSDC()
	if bid+ask == 0 {
		return 0
	}
	return (bid - ask) / (bid + ask)
}

// TopLevels returns up to n levels from each side of the book.
func (ob OrderBook) TopLevels(n int) (bids, asks []BookEntry) {
	if n > len(ob.Bids) {
		bids = ob.Bids
	} else {
		bids = ob.Bids[:n]
	}
	if n > len(ob.Asks) {
		asks = ob.Asks
	} else {
		asks = ob.Asks[:n]
	}
	return bids, asks
}

// ParsePrice converts an API price string to float64.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
