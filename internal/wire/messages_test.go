package wire

import (
	"errors"
	"strings"
	"testing"
	"time"

	"depthsync/internal/types"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testView() types.BookView {
	return types.BookView{
		Symbol:       "BTCUSDT",
		SessionID:    "session-1",
		Status:       types.StateConnected,
		LastUpdateID: 160,
		Bids: []types.OrderLevel{
			{Price: d("102"), Quantity: d("2.0"), Total: d("2.0")},
			{Price: d("101"), Quantity: d("1.5"), Total: d("3.5")},
		},
		Asks: []types.OrderLevel{
			{Price: d("103.5"), Quantity: d("0.25"), Total: d("0.25")},
		},
		Stats: types.Stats{
			BestBid:       d("102"),
			BestAsk:       d("103.5"),
			MidPrice:      d("102.75"),
			Spread:        d("1.5"),
			SpreadPercent: d("1.47"),
			MaxTotal:      d("3.5"),
			BidLevels:     2,
			AskLevels:     1,
		},
		UpdatedAt: time.UnixMilli(1700000000000),
	}
}

func TestNewOrderbookMessage(t *testing.T) {
	tests := []struct {
		name      string
		info      *types.SymbolInfo
		wantPrice string
		wantTotal string
	}{
		{name: "Exact decimals", info: nil, wantPrice: "102", wantTotal: "3.5"},
		{
			name:      "Symbol precision",
			info:      &types.SymbolInfo{Symbol: "BTCUSDT", PricePrecision: 2, QuantityPrecision: 3},
			wantPrice: "102.00",
			wantTotal: "3.500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewOrderbookMessage(testView(), tt.info)

			if msg.Type != MessageTypeOrderbook || msg.Status != "connected" {
				t.Errorf("Unexpected header: %s %s", msg.Type, msg.Status)
			}
			if len(msg.Bids) != 2 || len(msg.Asks) != 1 {
				t.Fatalf("Expected 2 bids and 1 ask, got %d and %d", len(msg.Bids), len(msg.Asks))
			}
			if msg.Bids[0].Price != tt.wantPrice {
				t.Errorf("Expected price %s, got %s", tt.wantPrice, msg.Bids[0].Price)
			}
			if msg.Bids[1].Cumulative != tt.wantTotal {
				t.Errorf("Expected cumulative %s, got %s", tt.wantTotal, msg.Bids[1].Cumulative)
			}
			if msg.Timestamp != 1700000000000 {
				t.Errorf("Expected timestamp 1700000000000, got %d", msg.Timestamp)
			}
		})
	}
}

func TestOrderbookMessageCarriesError(t *testing.T) {
	view := testView()
	view.Status = types.StateReconnecting
	view.Err = errors.New("connection closed (code: 1006)")

	data, err := Encode(NewOrderbookMessage(view, nil))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	body := string(data)
	for _, want := range []string{`"status":"reconnecting"`, `"error":"connection closed (code: 1006)"`, `"lastUpdateId":160`} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %s in %s", want, body)
		}
	}
}

func TestNewStatsMessage(t *testing.T) {
	msg := NewStatsMessage(testView(), nil)

	if msg.SpreadPercent != "1.47" {
		t.Errorf("Expected spread percent 1.47, got %s", msg.SpreadPercent)
	}
	if msg.MidPrice != "102.75" {
		t.Errorf("Expected mid price 102.75, got %s", msg.MidPrice)
	}
	if msg.BidLevels != 2 || msg.AskLevels != 1 {
		t.Errorf("Expected 2/1 levels, got %d/%d", msg.BidLevels, msg.AskLevels)
	}
}

func TestDecodeClientMessage(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"change_symbol","symbol":"ethusdt"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != ClientChangeSymbol || msg.Symbol != "ethusdt" {
		t.Errorf("Unexpected message: %+v", msg)
	}

	if _, err := DecodeClientMessage([]byte(`{"type":`)); err == nil {
		t.Error("Expected an error for truncated JSON")
	}
}
