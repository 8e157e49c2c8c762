package wire

import (
	"depthsync/internal/symbolinfo"
	"depthsync/internal/types"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// MessageType tags messages sent to consumers
type MessageType string

const (
	MessageTypeOrderbook MessageType = "orderbook"
	MessageTypeStats     MessageType = "stats"
)

// Client message types
const (
	ClientChangeSymbol = "change_symbol"
	ClientPause        = "pause"
	ClientResume       = "resume"
)

// ClientMessage represents messages sent from client to server
type ClientMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}

// OrderbookMessage carries one emitted book view
type OrderbookMessage struct {
	Type         MessageType  `json:"type"`
	Symbol       string       `json:"symbol"`
	SessionID    string       `json:"sessionId,omitempty"`
	Status       string       `json:"status"`
	Error        string       `json:"error,omitempty"`
	Paused       bool         `json:"paused"`
	Loading      bool         `json:"loading"`
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Timestamp    int64        `json:"timestamp"`
}

// StatsMessage carries the statistics of one emitted book view
type StatsMessage struct {
	Type            MessageType `json:"type"`
	Symbol          string      `json:"symbol"`
	BestBid         string      `json:"bestBid"`
	BestAsk         string      `json:"bestAsk"`
	MidPrice        string      `json:"midPrice"`
	Spread          string      `json:"spread"`
	SpreadPercent   string      `json:"spreadPercent"`
	MaxTotal        string      `json:"maxTotal"`
	BidLevels       int         `json:"bidLevels"`
	AskLevels       int         `json:"askLevels"`
	TotalBidsQty    string      `json:"totalBidsQty"`
	TotalAsksQty    string      `json:"totalAsksQty"`
	TotalDelta      string      `json:"totalDelta"`
	EventsProcessed int64       `json:"eventsProcessed"`
	StaleEvents     int64       `json:"staleEvents"`
	DroppedEvents   int64       `json:"droppedEvents"`
	ForeignEvents   int64       `json:"foreignEvents"`
	Timestamp       int64       `json:"timestamp"`
}

// PriceLevel is one formatted level with its cumulative quantity
type PriceLevel struct {
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Cumulative string `json:"cumulative"`
}

// formatter renders decimals with the symbol's precisions when they are known
type formatter struct {
	info *types.SymbolInfo
}

func (f formatter) price(d decimal.Decimal) string {
	if f.info == nil {
		return d.String()
	}
	return symbolinfo.FormatPrice(d, f.info.PricePrecision)
}

func (f formatter) quantity(d decimal.Decimal) string {
	if f.info == nil {
		return d.String()
	}
	return symbolinfo.FormatQuantity(d, f.info.QuantityPrecision)
}

func (f formatter) levels(levels []types.OrderLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, level := range levels {
		out = append(out, PriceLevel{
			Price:      f.price(level.Price),
			Quantity:   f.quantity(level.Quantity),
			Cumulative: f.quantity(level.Total),
		})
	}
	return out
}

// NewOrderbookMessage converts a view to wire format. info may be nil, in
// which case decimals are rendered exactly.
func NewOrderbookMessage(view types.BookView, info *types.SymbolInfo) OrderbookMessage {
	f := formatter{info: info}

	msg := OrderbookMessage{
		Type:         MessageTypeOrderbook,
		Symbol:       view.Symbol,
		SessionID:    view.SessionID,
		Status:       string(view.Status),
		Paused:       view.Paused,
		Loading:      view.IsLoading(),
		LastUpdateID: view.LastUpdateID,
		Bids:         f.levels(view.Bids),
		Asks:         f.levels(view.Asks),
		Timestamp:    view.UpdatedAt.UnixMilli(),
	}
	if view.Err != nil {
		msg.Error = view.Err.Error()
	}

	return msg
}

// NewStatsMessage converts a view's statistics to wire format
func NewStatsMessage(view types.BookView, info *types.SymbolInfo) StatsMessage {
	f := formatter{info: info}
	stats := view.Stats

	return StatsMessage{
		Type:            MessageTypeStats,
		Symbol:          view.Symbol,
		BestBid:         f.price(stats.BestBid),
		BestAsk:         f.price(stats.BestAsk),
		MidPrice:        stats.MidPrice.String(),
		Spread:          f.price(stats.Spread),
		SpreadPercent:   stats.SpreadPercent.StringFixed(2),
		MaxTotal:        f.quantity(stats.MaxTotal),
		BidLevels:       stats.BidLevels,
		AskLevels:       stats.AskLevels,
		TotalBidsQty:    f.quantity(stats.TotalBidsQty),
		TotalAsksQty:    f.quantity(stats.TotalAsksQty),
		TotalDelta:      f.quantity(stats.TotalDelta),
		EventsProcessed: stats.EventsProcessed,
		StaleEvents:     stats.StaleEvents,
		DroppedEvents:   stats.DroppedEvents,
		ForeignEvents:   stats.ForeignEvents,
		Timestamp:       view.UpdatedAt.UnixMilli(),
	}
}

// Encode marshals a wire message
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeClientMessage parses a message received from a consumer
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
