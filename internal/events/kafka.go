package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/order"
)

// ErrBufferFull is returned by Publish when the outgoing queue is full.
var ErrBufferFull = errors.New("event buffer full")

var _ order.Publisher = (*KafkaPublisher)(nil)

// KafkaPublisher queues events in memory and writes them to a Kafka topic
// from a single goroutine started by Run.
type KafkaPublisher struct {
	w     *kafka.Writer
	inbox chan kafka.Message
	lg    *zap.Logger
}

// NewKafkaPublisher creates a publisher for topic. buf bounds the number of
// queued messages.
func NewKafkaPublisher(lg *zap.Logger, brokers []string, topic string, buf int) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		inbox: make(chan kafka.Message, buf),
		lg:    lg,
	}
}

// Publish enqueues e without blocking.
func (p *KafkaPublisher) Publish(_ context.Context, e order.Event) error {
	m := kafka.Message{
		Key:   PartitionKey(e.OrderID),
		Value: Encode(e),
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	select {
	case p.inbox <- m:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run writes queued messages until ctx is cancelled, then flushes what is
// left and closes the writer.
func (p *KafkaPublisher) Run(ctx context.Context) error {
	defer func() {
		if err := p.w.Close(); err != nil {
			p.lg.Warn("Close kafka writer", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return nil
		case m := <-p.inbox:
			p.write(ctx, m)
		}
	}
}

func (p *KafkaPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case m := <-p.inbox:
			p.write(ctx, m)
		default:
			return
		}
	}
}

func (p *KafkaPublisher) write(ctx context.Context, m kafka.Message) {
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.lg.Error("Write order event",
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	}
}
