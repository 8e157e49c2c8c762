package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"depthsync/internal/config"
	"depthsync/internal/exchange"
	"depthsync/internal/types"
)

// fakeClock fires timers only when advanced
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every timer that came due, in order
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Active returns the delays of the timers that have neither fired nor stopped
func (c *fakeClock) Active() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var delays []time.Duration
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			delays = append(delays, t.delay)
		}
	}
	return delays
}

// fakeStream honours the transport contract: nothing is delivered after close
type fakeStream struct {
	symbol   string
	handlers exchange.StreamHandlers

	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeStream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) Open() {
	if !s.IsClosed() {
		s.handlers.OnOpen()
	}
}

func (s *fakeStream) Delta(update *exchange.DepthUpdate) {
	if !s.IsClosed() {
		s.handlers.OnDelta(update)
	}
}

func (s *fakeStream) CloseFromServer(wasClean bool, code int) {
	if !s.IsClosed() {
		s.handlers.OnClose(wasClean, code)
	}
}

func (s *fakeStream) Fail(err error) {
	if !s.IsClosed() {
		s.handlers.OnError(err)
	}
}

type snapshotResult struct {
	snapshot *exchange.Snapshot
	err      error
}

type fakeTransport struct {
	mu        sync.Mutex
	streams   []*fakeStream
	snapshots []snapshotResult
	fetches   []string
}

func (f *fakeTransport) OpenStream(ctx context.Context, symbol string, handlers exchange.StreamHandlers) exchange.CloseFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeStream{symbol: symbol, handlers: handlers}
	f.streams = append(f.streams, s)
	return s.Close
}

func (f *fakeTransport) FetchSnapshot(ctx context.Context, symbol string) (*exchange.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, symbol)
	if len(f.snapshots) == 0 {
		return snapshot(symbol, 100), nil
	}
	next := f.snapshots[0]
	f.snapshots = f.snapshots[1:]
	return next.snapshot, next.err
}

func (f *fakeTransport) QueueSnapshot(snap *exchange.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snapshotResult{snapshot: snap, err: err})
}

func (f *fakeTransport) Streams() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

func (f *fakeTransport) Latest() *fakeStream {
	streams := f.Streams()
	if len(streams) == 0 {
		return nil
	}
	return streams[len(streams)-1]
}

// recorder collects every published view
type recorder struct {
	mu    sync.Mutex
	views []types.BookView
}

func (r *recorder) Publish(view types.BookView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, view)
}

func (r *recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *recorder) Last() types.BookView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return types.BookView{}
	}
	return r.views[len(r.views)-1]
}

// harness drives the control loop from the test goroutine
type harness struct {
	t         *testing.T
	engine    *Engine
	transport *fakeTransport
	clock     *fakeClock
	published *recorder
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		t:         t,
		transport: &fakeTransport{},
		clock:     newFakeClock(),
		published: &recorder{},
	}
	h.engine = NewWithClock(cfg, h.transport, h.clock, h.published)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.engine.ctx = ctx

	return h
}

// start connects and synchronizes against the next queued snapshot
func (h *harness) start() *fakeStream {
	h.t.Helper()
	h.engine.connect()
	stream := h.transport.Latest()
	stream.Open()
	h.pump()
	h.waitFor(evSnapshot)
	return stream
}

// pump handles every event already queued
func (h *harness) pump() {
	for {
		select {
		case ev := <-h.engine.events:
			h.engine.handle(ev)
		default:
			return
		}
	}
}

// waitFor handles events until one of kind has been handled
func (h *harness) waitFor(kind eventKind) {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.engine.events:
			h.engine.handle(ev)
			if ev.kind == kind {
				return
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.pump()
}

func snapshot(symbol string, lastUpdateID int64) *exchange.Snapshot {
	return &exchange.Snapshot{
		Exchange:     exchange.Binance,
		Symbol:       symbol,
		LastUpdateID: lastUpdateID,
		Bids: []exchange.PriceLevel{
			{Price: "100.00", Quantity: "1.0"},
			{Price: "99.00", Quantity: "2.0"},
			{Price: "98.00", Quantity: "0"},
		},
		Asks: []exchange.PriceLevel{
			{Price: "101.00", Quantity: "1.5"},
			{Price: "102.00", Quantity: "3.0"},
		},
	}
}

func delta(first, final int64, bids, asks []exchange.PriceLevel) *exchange.DepthUpdate {
	return &exchange.DepthUpdate{
		Exchange:      exchange.Binance,
		Symbol:        "BTCUSDT",
		EventTime:     time.UnixMilli(1700000000000 + final),
		FirstUpdateID: first,
		FinalUpdateID: final,
		Bids:          bids,
		Asks:          asks,
	}
}

func level(price, qty string) []exchange.PriceLevel {
	return []exchange.PriceLevel{{Price: price, Quantity: qty}}
}
