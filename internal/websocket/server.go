package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"depthsync/internal/exchange"
	"depthsync/internal/symbolinfo"
	"depthsync/internal/types"
	"depthsync/internal/wire"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout      = 5 * time.Second
	symbolInfoTimeout = 5 * time.Second
	broadcastBuffer   = 100
)

// HealthFunc reports the transport's connection health
type HealthFunc func() exchange.HealthStatus

// client serializes writes to one connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server broadcasts every book view to WebSocket clients and exposes the
// engine's controls over HTTP
type Server struct {
	addr     string
	book     types.BookController
	symbols  *symbolinfo.Cache
	health   HealthFunc
	upgrader websocket.Upgrader

	clients    map[*client]bool
	clientsMux sync.RWMutex
	broadcast  chan types.BookView

	warming sync.Map // symbol -> struct{}, symbol info fetches in flight
}

// NewServer creates a server for book. symbols and health may be nil.
func NewServer(addr string, book types.BookController, symbols *symbolinfo.Cache, health HealthFunc) *Server {
	return &Server{
		addr:      addr,
		book:      book,
		symbols:   symbols,
		health:    health,
		clients:   make(map[*client]bool),
		broadcast: make(chan types.BookView, broadcastBuffer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetBook attaches the controller when it has to be created after the
// server. Call it before Start.
func (s *Server) SetBook(book types.BookController) {
	s.book = book
}

// Publish queues view for broadcast. It never blocks; when the queue is full
// the view is dropped, since a newer one always follows.
func (s *Server) Publish(view types.BookView) {
	select {
	case s.broadcast <- view:
	default:
		log.Printf("[server] Broadcast queue full, dropping view for %s", view.Symbol)
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)

	// a subrouter answers 404 on a method mismatch; the root router answers 405
	r.HandleFunc("/api/book", s.handleBook).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/symbol/{symbol}", s.handleSetSymbol).Methods(http.MethodPost)
	r.HandleFunc("/api/pause", s.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/api/resume", s.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/api/symbols/{symbol}", s.handleSymbolInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	return r
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.broadcastMessages(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] Shutdown error: %v", err)
		}
		s.closeClients()
	}()

	log.Printf("[server] Listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] WebSocket upgrade error: %v", err)
		return
	}

	c := &client{conn: conn}
	s.clientsMux.Lock()
	s.clients[c] = true
	s.clientsMux.Unlock()

	log.Printf("[server] Client connected from %s", r.RemoteAddr)

	defer func() {
		s.removeClient(c)
		log.Printf("[server] Client disconnected from %s", r.RemoteAddr)
	}()

	// new clients start from the latest view
	view := s.book.View()
	if data, err := wire.Encode(wire.NewOrderbookMessage(view, s.symbolInfo(view.Symbol))); err == nil {
		if err := c.write(data); err != nil {
			return
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		msg, err := wire.DecodeClientMessage(message)
		if err != nil {
			log.Printf("[server] Error parsing client message: %v", err)
			continue
		}

		s.handleClientMessage(msg)
	}
}

func (s *Server) handleClientMessage(msg wire.ClientMessage) {
	switch msg.Type {
	case wire.ClientChangeSymbol:
		if msg.Symbol != "" {
			log.Printf("[server] Symbol change request: %s", msg.Symbol)
			s.book.SetSymbol(msg.Symbol)
		}
	case wire.ClientPause:
		s.book.Pause()
	case wire.ClientResume:
		s.book.Resume()
	default:
		log.Printf("[server] Unknown message type: %s", msg.Type)
	}
}

func (s *Server) broadcastMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case view := <-s.broadcast:
			s.send(view)
		}
	}
}

func (s *Server) send(view types.BookView) {
	s.clientsMux.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMux.RUnlock()

	if len(clients) == 0 {
		return
	}

	info := s.symbolInfo(view.Symbol)
	book, err := wire.Encode(wire.NewOrderbookMessage(view, info))
	if err != nil {
		log.Printf("[server] Error encoding orderbook message: %v", err)
		return
	}
	stats, err := wire.Encode(wire.NewStatsMessage(view, info))
	if err != nil {
		log.Printf("[server] Error encoding stats message: %v", err)
		return
	}

	var failed []*client
	for _, c := range clients {
		if err := c.write(book); err != nil {
			log.Printf("[server] Error writing to client: %v", err)
			failed = append(failed, c)
			continue
		}
		if err := c.write(stats); err != nil {
			log.Printf("[server] Error writing to client: %v", err)
			failed = append(failed, c)
		}
	}

	for _, c := range failed {
		s.removeClient(c)
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMux.Lock()
	delete(s.clients, c)
	s.clientsMux.Unlock()
	c.conn.Close()
}

func (s *Server) closeClients() {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	for c := range s.clients {
		c.conn.Close()
		delete(s.clients, c)
	}
}

// ClientCount returns the number of connected WebSocket clients
func (s *Server) ClientCount() int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	return len(s.clients)
}

// symbolInfo returns cached info for symbol, starting a background fetch on
// a miss so that later messages are formatted with the symbol's precision
func (s *Server) symbolInfo(symbol string) *types.SymbolInfo {
	if s.symbols == nil || symbol == "" {
		return nil
	}
	if info, ok := s.symbols.Peek(symbol); ok {
		return &info
	}

	if _, inFlight := s.warming.LoadOrStore(symbol, struct{}{}); !inFlight {
		go func() {
			defer s.warming.Delete(symbol)
			ctx, cancel := context.WithTimeout(context.Background(), symbolInfoTimeout)
			defer cancel()
			if _, err := s.symbols.Get(ctx, symbol); err != nil {
				log.Printf("[server] %v", err)
			}
		}()
	}
	return nil
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	view := s.book.View()
	writeJSON(w, http.StatusOK, wire.NewOrderbookMessage(view, s.symbolInfo(view.Symbol)))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	view := s.book.View()
	writeJSON(w, http.StatusOK, wire.NewStatsMessage(view, s.symbolInfo(view.Symbol)))
}

func (s *Server) handleSetSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["symbol"]))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	log.Printf("[server] Symbol change request: %s", symbol)
	s.book.SetSymbol(symbol)
	writeJSON(w, http.StatusAccepted, map[string]string{"symbol": symbol})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.book.Pause()
	writeJSON(w, http.StatusAccepted, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.book.Resume()
	writeJSON(w, http.StatusAccepted, map[string]bool{"paused": false})
}

func (s *Server) handleSymbolInfo(w http.ResponseWriter, r *http.Request) {
	if s.symbols == nil {
		writeError(w, http.StatusNotFound, "symbol info is not available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), symbolInfoTimeout)
	defer cancel()

	info, err := s.symbols.Get(ctx, mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	Paused       bool   `json:"paused"`
	Error        string `json:"error,omitempty"`
	Clients      int    `json:"clients"`
	Connected    bool   `json:"connected"`
	MessageCount int64  `json:"messageCount"`
	ErrorCount   int64  `json:"errorCount"`
	LastMessage  int64  `json:"lastMessage,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	view := s.book.View()
	resp := HealthResponse{
		Symbol:  view.Symbol,
		Status:  string(view.Status),
		Paused:  view.Paused,
		Clients: s.ClientCount(),
	}
	if view.Err != nil {
		resp.Error = view.Err.Error()
	}
	if s.health != nil {
		h := s.health()
		resp.Connected = h.Connected
		resp.MessageCount = h.MessageCount
		resp.ErrorCount = h.ErrorCount
		if !h.LastMessage.IsZero() {
			resp.LastMessage = h.LastMessage.UnixMilli()
		}
	}

	code := http.StatusOK
	if view.Status == types.StateError {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] Error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
