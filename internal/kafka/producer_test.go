package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"depthsync/internal/types"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	fail     bool
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

func TestSend(t *testing.T) {
	writer := &fakeWriter{}
	p := newProducer(writer, "depthsync.book")

	view := types.BookView{
		Symbol:       "BTCUSDT",
		Status:       types.StateConnected,
		LastUpdateID: 42,
		UpdatedAt:    time.UnixMilli(1700000000000),
	}
	if err := p.Send(context.Background(), view); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs := writer.Messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Key) != "BTCUSDT" {
		t.Errorf("Expected key BTCUSDT, got %s", msgs[0].Key)
	}
	if !strings.Contains(string(msgs[0].Value), `"lastUpdateId":42`) {
		t.Errorf("Unexpected value: %s", msgs[0].Value)
	}
}

func TestRunDeliversQueuedViews(t *testing.T) {
	writer := &fakeWriter{}
	p := newProducer(writer, "depthsync.book")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	p.Publish(types.BookView{Symbol: "BTCUSDT"})
	p.Publish(types.BookView{Symbol: "ETHUSDT"})

	deadline := time.Now().Add(2 * time.Second)
	for len(writer.Messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(writer.Messages()); got != 2 {
		t.Fatalf("Expected 2 messages, got %d", got)
	}

	cancel()
	<-done

	if err := p.Close(); err != nil || !writer.closed {
		t.Errorf("Expected writer to be closed, err=%v", err)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	p := newProducer(&fakeWriter{fail: true}, "depthsync.book")

	for i := 0; i < queueSize+10; i++ {
		p.Publish(types.BookView{Symbol: "BTCUSDT"})
	}

	if len(p.queue) != queueSize {
		t.Errorf("Expected a full queue of %d, got %d", queueSize, len(p.queue))
	}
}
