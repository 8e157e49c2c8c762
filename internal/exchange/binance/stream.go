package binance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"depthsync/internal/exchange"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// depthStream is one diff-depth WebSocket connection
type depthStream struct {
	client   *Client
	url      string
	handlers exchange.StreamHandlers
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed atomic.Bool
	once   sync.Once
}

// OpenStream dials the diff-depth stream for symbol in the background.
// Cancelling ctx has the same effect as calling the returned CloseFunc.
func (c *Client) OpenStream(ctx context.Context, symbol string, handlers exchange.StreamHandlers) exchange.CloseFunc {
	ctx, cancel := context.WithCancel(ctx)

	s := &depthStream{
		client:   c,
		url:      c.streamURL(symbol),
		handlers: handlers,
		ctx:      ctx,
		cancel:   cancel,
	}
	context.AfterFunc(ctx, s.close)

	go s.run()

	return s.close
}

func (s *depthStream) run() {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.client.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(s.ctx, s.url, nil)
	if err != nil {
		if s.closed.Load() {
			return
		}
		s.client.incrementErrorCount()
		s.emitError(fmt.Errorf("websocket connection failed: %w", err))
		s.emitClose(false, websocket.CloseAbnormalClosure)
		return
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.client.updateConnectionStatus(true)
	defer s.client.updateConnectionStatus(false)
	log.Printf("[%s] WebSocket connected to %s", s.client.GetName(), s.url)

	s.emitOpen()
	s.readMessages(conn)
}

// readMessages continuously reads WebSocket messages until the connection ends
func (s *depthStream) readMessages(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.client.incrementErrorCount()

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				log.Printf("[%s] WebSocket closed by server: code=%d %s", s.client.GetName(), closeErr.Code, closeErr.Text)
				s.emitClose(closeErr.Code == websocket.CloseNormalClosure, closeErr.Code)
				return
			}

			log.Printf("[%s] WebSocket read error: %v", s.client.GetName(), err)
			s.emitError(err)
			s.emitClose(false, websocket.CloseAbnormalClosure)
			return
		}

		s.client.recordMessage()

		update, err := decodeDepthUpdate(data)
		if err != nil {
			s.client.incrementErrorCount()
			log.Printf("[%s] Dropping message: %v", s.client.GetName(), err)
			continue
		}

		s.emitDelta(update)
	}
}

// close is idempotent. Nothing read after it is reported; a handler call
// already in progress is not waited for.
func (s *depthStream) close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			return
		}

		err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			log.Printf("[%s] Error sending close message: %v", s.client.GetName(), err)
		}
		conn.Close()
	})
}

func (s *depthStream) emitOpen() {
	if s.closed.Load() || s.handlers.OnOpen == nil {
		return
	}
	s.handlers.OnOpen()
}

func (s *depthStream) emitDelta(update *exchange.DepthUpdate) {
	if s.closed.Load() || s.handlers.OnDelta == nil {
		return
	}
	s.handlers.OnDelta(update)
}

func (s *depthStream) emitClose(wasClean bool, code int) {
	if s.closed.Load() || s.handlers.OnClose == nil {
		return
	}
	s.handlers.OnClose(wasClean, code)
}

func (s *depthStream) emitError(err error) {
	if s.closed.Load() || s.handlers.OnError == nil {
		return
	}
	s.handlers.OnError(err)
}

// decodeDepthUpdate parses a raw or combined-stream depth event and converts
// it to canonical format. Every failure wraps exchange.ErrMalformedMessage.
func decodeDepthUpdate(data []byte) (*exchange.DepthUpdate, error) {
	var event DepthEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}

	if event.EventType == "" {
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err == nil && msg.Stream != "" {
			event = msg.Data
		}
	}

	if event.EventType != "depthUpdate" {
		return nil, fmt.Errorf("%w: unexpected event type %q", exchange.ErrMalformedMessage, event.EventType)
	}

	update := convertDepthEvent(&event)
	if err := update.Validate(); err != nil {
		return nil, err
	}

	return update, nil
}

// convertDepthEvent converts a Binance depth event to canonical format
func convertDepthEvent(event *DepthEvent) *exchange.DepthUpdate {
	return &exchange.DepthUpdate{
		Exchange:      exchange.Binance,
		Symbol:        event.Symbol,
		EventTime:     time.UnixMilli(event.EventTime),
		FirstUpdateID: event.FirstUpdateID,
		FinalUpdateID: event.FinalUpdateID,
		Bids:          exchange.LevelsFromPairs(event.Bids),
		Asks:          exchange.LevelsFromPairs(event.Asks),
	}
}
