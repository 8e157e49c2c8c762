package kafka

import (
	"context"
	"log"
	"time"

	"depthsync/internal/types"
	"depthsync/internal/wire"

	"github.com/segmentio/kafka-go"
)

const queueSize = 256

// messageWriter is the part of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes book views to a Kafka topic keyed by symbol
type Producer struct {
	writer messageWriter
	topic  string
	queue  chan types.BookView
}

// NewProducer creates a producer writing to topic on brokers
func NewProducer(brokers []string, topic string) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, topic)
}

func newProducer(writer messageWriter, topic string) *Producer {
	return &Producer{
		writer: writer,
		topic:  topic,
		queue:  make(chan types.BookView, queueSize),
	}
}

// Publish queues view for delivery. It never blocks; when the queue is full
// the view is dropped.
func (p *Producer) Publish(view types.BookView) {
	select {
	case p.queue <- view:
	default:
		log.Printf("[kafka] Queue full, dropping view for %s", view.Symbol)
	}
}

// Run delivers queued views until ctx is cancelled
func (p *Producer) Run(ctx context.Context) {
	log.Printf("[kafka] Publishing book views to topic %s", p.topic)
	for {
		select {
		case <-ctx.Done():
			return
		case view := <-p.queue:
			if err := p.Send(ctx, view); err != nil && ctx.Err() == nil {
				log.Printf("[kafka] Error publishing %s view: %v", view.Symbol, err)
			}
		}
	}
}

// Send writes one view synchronously
func (p *Producer) Send(ctx context.Context, view types.BookView) error {
	value, err := wire.Encode(wire.NewOrderbookMessage(view, nil))
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(view.Symbol),
		Value: value,
		Time:  view.UpdatedAt,
	})
}

// Close flushes and closes the underlying writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
