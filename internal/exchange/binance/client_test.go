package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newRESTServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/depth", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("Expected symbol BTCUSDT, got %s", got)
		}
		if got := r.URL.Query().Get("limit"); got != "1000" {
			t.Errorf("Expected limit 1000, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"lastUpdateId":160,"bids":[["0.0024","10"],["0.0023","0"]],"asks":[["0.0026","100"]]}`))
	})
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","baseAssetPrecision":8,"quotePrecision":8,
			"filters":[{"filterType":"PRICE_FILTER","minPrice":"0.01000000","maxPrice":"1000000.00000000","tickSize":"0.01000000"}]}]}`))
	})
	return httptest.NewServer(mux)
}

func TestFetchSnapshot(t *testing.T) {
	server := newRESTServer(t)
	defer server.Close()

	client := NewClient(Config{RestURL: server.URL, StreamURL: "ws://unused"})

	snap, err := client.FetchSnapshot(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}

	if snap.LastUpdateID != 160 {
		t.Errorf("Expected lastUpdateId 160, got %d", snap.LastUpdateID)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("Expected 2 bids and 1 ask, got %d and %d", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != "0.0024" || snap.Bids[0].Quantity != "10" {
		t.Errorf("Unexpected first bid: %+v", snap.Bids[0])
	}
	if snap.Symbol != "BTCUSDT" {
		t.Errorf("Expected symbol BTCUSDT, got %s", snap.Symbol)
	}
}

func TestFetchSnapshotFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
	}))
	defer server.Close()

	client := NewClient(Config{RestURL: server.URL})

	snap, err := client.FetchSnapshot(context.Background(), "BTCUSDT")
	if err == nil {
		t.Fatal("Expected an error for a non-success response")
	}
	if snap != nil {
		t.Error("Expected no partial snapshot on failure")
	}
	if client.Health().ErrorCount != 1 {
		t.Errorf("Expected error count 1, got %d", client.Health().ErrorCount)
	}
}

func TestSymbolInfo(t *testing.T) {
	server := newRESTServer(t)
	defer server.Close()

	client := NewClient(Config{RestURL: server.URL})

	info, err := client.SymbolInfo(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("SymbolInfo failed: %v", err)
	}

	if !info.TickSize.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected tick size 0.01, got %s", info.TickSize)
	}
	if info.PricePrecision != 2 {
		t.Errorf("Expected price precision 2, got %d", info.PricePrecision)
	}
	if info.QuantityPrecision != 8 {
		t.Errorf("Expected quantity precision 8, got %d", info.QuantityPrecision)
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "With update speed",
			cfg:  Config{StreamURL: "wss://stream.binance.com:9443/ws/", UpdateSpeed: "1000ms"},
			want: "wss://stream.binance.com:9443/ws/btcusdt@depth@1000ms",
		},
		{
			name: "Exchange default speed",
			cfg:  Config{StreamURL: "wss://stream.binance.com:9443/ws"},
			want: "wss://stream.binance.com:9443/ws/btcusdt@depth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.cfg)
			if got := client.streamURL("BTCUSDT"); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
