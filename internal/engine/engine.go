package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"depthsync/internal/config"
	"depthsync/internal/exchange"
	"depthsync/internal/orderbook"
	"depthsync/internal/types"

	"github.com/google/uuid"
)

var _ types.BookController = (*Engine)(nil)

// Engine keeps one symbol's order book reconciled from a REST snapshot and a
// diff-depth stream. Everything below the control-loop marker is owned by the
// goroutine running Run; the exported methods only post events to it.
type Engine struct {
	cfg        config.Config
	transport  exchange.Transport
	clock      Clock
	publishers []types.Publisher

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// control loop
	ctx              context.Context
	symbol           string
	state            *orderbook.ReconcileState
	pending          []*exchange.DepthUpdate
	pendingDropped   bool
	initialized      bool
	syncing          bool
	dirty            bool
	intentionalClose bool
	paused           bool

	// overlap check against lastFinalID for the first live delta
	awaitingOverlap bool
	lastFinalID     int64

	sessionID     string
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	closeStream   exchange.CloseFunc

	batchTimer     Timer
	batchGen       uint64
	reconnectTimer Timer
	reconnectGen   uint64
	reconnect      *reconnectPolicy

	status   types.ConnectionState
	lastErr  error
	bids     []types.OrderLevel
	asks     []types.OrderLevel
	counters counters

	mu   sync.RWMutex
	view types.BookView
}

type counters struct {
	processed     int64
	stale         int64
	dropped       int64
	foreign       int64
	lastEventTime time.Time
}

// New creates an engine for cfg.Symbol. Every publisher receives each view
// the engine emits.
func New(cfg config.Config, transport exchange.Transport, publishers ...types.Publisher) *Engine {
	return NewWithClock(cfg, transport, realClock{}, publishers...)
}

// NewWithClock creates an engine that schedules its timers on clock
func NewWithClock(cfg config.Config, transport exchange.Transport, clock Clock, publishers ...types.Publisher) *Engine {
	if cfg.App.UpdateChannelSize <= 0 {
		cfg.App.UpdateChannelSize = 1000
	}

	e := &Engine{
		cfg:        cfg,
		transport:  transport,
		clock:      clock,
		publishers: publishers,
		events:     make(chan event, cfg.App.UpdateChannelSize),
		done:       make(chan struct{}),
		symbol:     strings.ToUpper(cfg.Symbol),
		state:      orderbook.NewReconcileState(),
		status:     types.StateDisconnected,
		reconnect: newReconnectPolicy(
			cfg.Reconnect.InitialDelay,
			cfg.Reconnect.MaxDelay,
			cfg.Reconnect.MaxAttempts,
		),
	}
	e.view = types.BookView{Symbol: e.symbol, Status: e.status}

	return e
}

// Run connects and processes events until ctx is cancelled, then tears the
// session down and publishes a final disconnected view. Run may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)

	e.ctx = ctx
	log.Printf("[engine] Starting %s orderbook sync", e.symbol)
	e.connect()

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			e.setStatus(types.StateDisconnected)
			e.emit()
			log.Printf("[engine] Stopped %s orderbook sync", e.symbol)
			return nil
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

// View returns the latest emitted book view
func (e *Engine) View() types.BookView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}

// SetSymbol retires the current session and resynchronizes on symbol.
// A paused engine stays paused.
func (e *Engine) SetSymbol(symbol string) {
	e.post(event{kind: evSetSymbol, symbol: symbol})
}

// Pause tears down the session; Resume starts over from a fresh snapshot
func (e *Engine) Pause() {
	e.post(event{kind: evPause})
}

// Resume restarts a paused, disconnected or failed engine
func (e *Engine) Resume() {
	e.post(event{kind: evResume})
}

// Disconnect tears down the session and clears the book
func (e *Engine) Disconnect() {
	e.post(event{kind: evDisconnect})
}

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evStreamOpen:
		e.onStreamOpen(ev)
	case evDelta:
		e.onDelta(ev)
	case evStreamClosed:
		e.onStreamClosed(ev)
	case evStreamError:
		e.onStreamError(ev)
	case evSnapshot:
		e.onSnapshot(ev)
	case evBatchTimer:
		e.onBatchTimer(ev)
	case evReconnectTimer:
		e.onReconnectTimer(ev)
	case evSetSymbol:
		e.onSetSymbol(ev.symbol)
	case evPause:
		e.onPause()
	case evResume:
		e.onResume()
	case evDisconnect:
		e.onDisconnect()
	}
}

// connect opens a new session. The previous one, if any, is retired first so
// that at most one stream is live.
func (e *Engine) connect() {
	if e.intentionalClose {
		return
	}
	e.retireSession()

	session := uuid.NewString()
	symbol := e.symbol
	e.sessionID = session
	e.sessionCtx, e.sessionCancel = context.WithCancel(e.ctx)
	e.initialized = false
	e.pending = nil
	e.pendingDropped = false

	e.setStatus(types.StateConnecting)
	e.emit()

	log.Printf("[engine] Connecting %s (session %s, attempt %d)", symbol, session, e.reconnect.Attempt())

	e.closeStream = e.transport.OpenStream(e.sessionCtx, symbol, exchange.StreamHandlers{
		OnOpen: func() {
			e.post(event{kind: evStreamOpen, session: session})
		},
		OnDelta: func(update *exchange.DepthUpdate) {
			e.post(event{kind: evDelta, session: session, update: update})
		},
		OnClose: func(wasClean bool, code int) {
			e.post(event{kind: evStreamClosed, session: session, wasClean: wasClean, code: code})
		},
		OnError: func(err error) {
			e.post(event{kind: evStreamError, session: session, err: err})
		},
	})
}

func (e *Engine) isCurrent(ev event) bool {
	return ev.session != "" && ev.session == e.sessionID
}

func (e *Engine) onStreamOpen(ev event) {
	if !e.isCurrent(ev) || e.initialized || e.syncing {
		return
	}
	e.syncing = true

	ctx, session, symbol := e.sessionCtx, e.sessionID, e.symbol
	log.Printf("[engine] Stream open for %s, fetching snapshot", symbol)

	go func() {
		snapshot, err := e.transport.FetchSnapshot(ctx, symbol)
		e.post(event{kind: evSnapshot, session: session, snapshot: snapshot, err: err})
	}()
}

func (e *Engine) onSnapshot(ev event) {
	if !e.isCurrent(ev) {
		return
	}
	e.syncing = false

	if ev.err != nil || ev.snapshot == nil {
		err := ev.err
		if err == nil {
			err = fmt.Errorf("empty snapshot")
		}
		log.Printf("[engine] Failed to synchronize %s: %v", e.symbol, err)
		e.lastErr = fmt.Errorf("%w: %v", ErrSyncFailed, err)
		e.setStatus(types.StateReconnecting)
		e.scheduleReconnect()
		e.emit()
		return
	}

	snapshot := ev.snapshot
	state := orderbook.NewReconcileState()
	state.Bids, state.Asks = orderbook.InitializeFromSnapshot(snapshot.Bids, snapshot.Asks)
	state.LastUpdateID = snapshot.LastUpdateID
	e.state = state
	e.lastFinalID = snapshot.LastUpdateID

	bracketed := false
	for _, update := range e.pending {
		if update.FinalUpdateID < snapshot.LastUpdateID {
			e.counters.stale++
			continue
		}
		if !bracketed && update.FinalUpdateID > snapshot.LastUpdateID {
			if !orderbook.IsValidFirstDelta(update.FirstUpdateID, update.FinalUpdateID, snapshot.LastUpdateID) {
				e.resyncOnGap(update, snapshot.LastUpdateID)
				return
			}
			bracketed = true
		}
		e.applyUpdate(update)
	}

	replayed := len(e.pending)
	e.awaitingOverlap = !bracketed || e.pendingDropped
	e.pending = nil
	e.pendingDropped = false
	e.initialized = true
	e.reconnect.Reset()
	e.lastErr = nil

	e.stopBatchTimer()
	e.dirty = false
	e.refreshView()
	e.setStatus(types.StateConnected)
	e.emit()

	log.Printf("[engine] Synchronized %s at update %d (%d bids, %d asks, %d buffered deltas)",
		e.symbol, e.state.LastUpdateID, len(e.state.Bids), len(e.state.Asks), replayed)
}

func (e *Engine) onDelta(ev event) {
	if !e.isCurrent(ev) {
		return
	}
	update := ev.update

	if !strings.EqualFold(update.Symbol, e.symbol) {
		e.counters.foreign++
		log.Printf("[engine] Ignoring delta for %s, current symbol is %s", update.Symbol, e.symbol)
		return
	}

	if !e.initialized {
		if len(e.pending) < e.cfg.Orderbook.MaxPendingDeltas {
			e.pending = append(e.pending, update)
		} else {
			e.counters.dropped++
			e.pendingDropped = true
		}
		return
	}

	if !orderbook.ShouldApplyDelta(update.FinalUpdateID, e.state.LastUpdateID) {
		e.counters.stale++
		return
	}

	if e.awaitingOverlap {
		if update.FinalUpdateID <= e.lastFinalID {
			e.counters.stale++
			return
		}
		if !orderbook.IsValidFirstDelta(update.FirstUpdateID, update.FinalUpdateID, e.lastFinalID) {
			e.resyncOnGap(update, e.lastFinalID)
			return
		}
		e.awaitingOverlap = false
	}

	if e.applyUpdate(update) {
		e.dirty = true
		e.scheduleBatch()
	}
}

// applyUpdate merges both sides and advances LastUpdateID when the book changed
func (e *Engine) applyUpdate(update *exchange.DepthUpdate) bool {
	bidsChanged := orderbook.ApplyDelta(e.state.Bids, update.Bids)
	asksChanged := orderbook.ApplyDelta(e.state.Asks, update.Asks)

	if update.FinalUpdateID > e.lastFinalID {
		e.lastFinalID = update.FinalUpdateID
	}
	if !bidsChanged && !asksChanged {
		return false
	}

	if update.FinalUpdateID > e.state.LastUpdateID {
		e.state.LastUpdateID = update.FinalUpdateID
	}
	e.counters.processed++
	e.counters.lastEventTime = update.EventTime
	return true
}

// resyncOnGap discards the session's book and starts over from a new snapshot
func (e *Engine) resyncOnGap(update *exchange.DepthUpdate, anchor int64) {
	err := fmt.Errorf("%w: update ids [%d, %d] do not cover %d",
		ErrSequenceGap, update.FirstUpdateID, update.FinalUpdateID, anchor+1)
	log.Printf("[engine] %s: %v, resynchronizing", e.symbol, err)

	e.state = orderbook.NewReconcileState()
	e.pending = nil
	e.pendingDropped = false
	e.awaitingOverlap = false
	e.lastFinalID = 0

	e.lastErr = err
	e.setStatus(types.StateReconnecting)
	e.scheduleReconnect()
	e.emit()
}

func (e *Engine) onStreamClosed(ev event) {
	if !e.isCurrent(ev) {
		return
	}
	e.closeStream = nil

	if ev.wasClean {
		log.Printf("[engine] Stream for %s closed cleanly (code: %d)", e.symbol, ev.code)
		e.lastErr = nil
	} else {
		e.lastErr = fmt.Errorf("%w (code: %d)", ErrConnectionClosed, ev.code)
		log.Printf("[engine] Stream for %s: %v", e.symbol, e.lastErr)
	}

	e.setStatus(types.StateReconnecting)
	e.scheduleReconnect()
	e.emit()
}

func (e *Engine) onStreamError(ev event) {
	if !e.isCurrent(ev) {
		return
	}

	e.lastErr = fmt.Errorf("%w: %v", ErrStreamFailed, ev.err)
	log.Printf("[engine] Stream for %s: %v", e.symbol, e.lastErr)

	e.setStatus(types.StateReconnecting)
	e.scheduleReconnect()
	e.emit()
}

// scheduleReconnect retires the session and arms the reconnect timer, or
// moves to the terminal error state once attempts are exhausted. Callers emit.
func (e *Engine) scheduleReconnect() {
	if e.intentionalClose || e.reconnectTimer != nil {
		return
	}
	e.retireSession()

	if e.reconnect.Exhausted() {
		e.lastErr = fmt.Errorf("%w (%d attempts)", ErrRetriesExhausted, e.reconnect.Attempt())
		e.setStatus(types.StateError)
		log.Printf("[engine] Giving up on %s: %v", e.symbol, e.lastErr)
		return
	}

	delay := e.reconnect.Next()
	log.Printf("[engine] Reconnecting %s in %s (attempt %d/%d)",
		e.symbol, delay, e.reconnect.Attempt(), e.cfg.Reconnect.MaxAttempts)

	e.reconnectGen++
	gen := e.reconnectGen
	e.reconnectTimer = e.clock.AfterFunc(delay, func() {
		e.post(event{kind: evReconnectTimer, gen: gen})
	})
}

func (e *Engine) onReconnectTimer(ev event) {
	if e.reconnectTimer == nil || ev.gen != e.reconnectGen {
		return
	}
	e.reconnectTimer = nil
	e.connect()
}

func (e *Engine) stopReconnectTimer() {
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	e.reconnectGen++
}

// scheduleBatch arms the flush timer unless one is already pending
func (e *Engine) scheduleBatch() {
	if e.batchTimer != nil {
		return
	}

	e.batchGen++
	gen := e.batchGen
	e.batchTimer = e.clock.AfterFunc(e.cfg.Orderbook.BatchInterval, func() {
		e.post(event{kind: evBatchTimer, gen: gen})
	})
}

func (e *Engine) onBatchTimer(ev event) {
	if e.batchTimer == nil || ev.gen != e.batchGen {
		return
	}
	e.batchTimer = nil
	e.flush()
}

func (e *Engine) stopBatchTimer() {
	if e.batchTimer != nil {
		e.batchTimer.Stop()
		e.batchTimer = nil
	}
	e.batchGen++
}

func (e *Engine) flush() {
	if !e.dirty {
		return
	}
	e.dirty = false
	e.refreshView()
	e.emit()
}

// retireSession closes the live stream and cancels its snapshot fetch. Late
// events from it fail the session check. Unflushed changes are folded into
// the view so the next emission carries them.
func (e *Engine) retireSession() {
	e.stopBatchTimer()
	if e.dirty {
		e.dirty = false
		e.refreshView()
	}

	if e.closeStream != nil {
		e.closeStream()
		e.closeStream = nil
	}
	if e.sessionCancel != nil {
		e.sessionCancel()
		e.sessionCancel = nil
	}

	e.sessionID = ""
	e.sessionCtx = nil
	e.initialized = false
	e.syncing = false
}

// teardown stops everything without scheduling a reconnect
func (e *Engine) teardown() {
	e.intentionalClose = true
	e.stopReconnectTimer()
	e.retireSession()
}

// resetState starts reconciliation from scratch. The paused flag is kept.
func (e *Engine) resetState() {
	e.state = orderbook.NewReconcileState()
	e.pending = nil
	e.pendingDropped = false
	e.dirty = false
	e.awaitingOverlap = false
	e.lastFinalID = 0
	e.counters = counters{}
	e.reconnect.Reset()
	e.intentionalClose = false
}

func (e *Engine) onSetSymbol(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}

	log.Printf("[engine] Switching symbol %s -> %s", e.symbol, symbol)
	e.teardown()
	e.resetState()
	e.symbol = symbol
	e.bids, e.asks = nil, nil
	e.lastErr = nil

	if e.paused {
		e.intentionalClose = true
		e.setStatus(types.StateDisconnected)
		e.emit()
		return
	}
	e.connect()
}

func (e *Engine) onPause() {
	if e.paused {
		return
	}

	log.Printf("[engine] Pausing %s", e.symbol)
	e.paused = true
	e.teardown()
	e.setStatus(types.StateDisconnected)
	e.emit()
}

func (e *Engine) onResume() {
	if !e.paused && e.status != types.StateError && e.status != types.StateDisconnected {
		return
	}

	log.Printf("[engine] Resuming %s", e.symbol)
	e.paused = false
	e.teardown()
	e.resetState()
	e.lastErr = nil
	e.connect()
}

func (e *Engine) onDisconnect() {
	log.Printf("[engine] Disconnecting %s", e.symbol)
	e.teardown()
	e.resetState()
	e.paused = false
	e.bids, e.asks = nil, nil
	e.lastErr = nil
	e.setStatus(types.StateDisconnected)
	e.emit()
}

func (e *Engine) setStatus(status types.ConnectionState) {
	if e.status != status {
		log.Printf("[engine] %s: %s -> %s", e.symbol, e.status, status)
	}
	e.status = status
}

// refreshView recomputes both depth-limited sides from the full book
func (e *Engine) refreshView() {
	e.bids = orderbook.MapToSortedArray(e.state.Bids, false, e.cfg.Orderbook.MaxLevels)
	e.asks = orderbook.MapToSortedArray(e.state.Asks, true, e.cfg.Orderbook.MaxLevels)
}

// emit replaces the published view and hands it to every publisher
func (e *Engine) emit() {
	stats := orderbook.ComputeStats(e.state, e.bids, e.asks)
	stats.EventsProcessed = e.counters.processed
	stats.StaleEvents = e.counters.stale
	stats.DroppedEvents = e.counters.dropped
	stats.ForeignEvents = e.counters.foreign
	stats.BufferedEvents = len(e.pending)
	stats.LastEventTime = e.counters.lastEventTime

	view := types.BookView{
		Symbol:       e.symbol,
		SessionID:    e.sessionID,
		Bids:         e.bids,
		Asks:         e.asks,
		Status:       e.status,
		Err:          e.lastErr,
		Paused:       e.paused,
		LastUpdateID: e.state.LastUpdateID,
		Stats:        stats,
		UpdatedAt:    e.clock.Now(),
	}

	e.mu.Lock()
	e.view = view
	e.mu.Unlock()

	for _, p := range e.publishers {
		p.Publish(view)
	}
}
