package binance

import "time"

// Config holds configuration for the Binance transport
type Config struct {
	RestURL          string // e.g. https://api.binance.com
	StreamURL        string // e.g. wss://stream.binance.com:9443/ws
	SnapshotLimit    int
	UpdateSpeed      string // "1000ms" or "100ms"; empty uses the exchange default
	HandshakeTimeout time.Duration
	HTTPTimeout      time.Duration
}

// WSMessage represents a combined-stream WebSocket message from Binance
type WSMessage struct {
	Stream string     `json:"stream"`
	Data   DepthEvent `json:"data"`
}

// DepthEvent represents a diff-depth event from Binance WebSocket
type DepthEvent struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}
