// Package bus is the in-process publish/subscribe dispatcher every pipeline
// component talks through. Delivery is synchronous on the publisher's stack,
// at most once, and isolated per subscriber.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pricegov/internal/metrics"
	"pricegov/internal/protocol"
)

// Handler consumes one typed message. Handlers that do blocking I/O must hand
// the work off (see internal/worker) and return promptly.
type Handler func(ctx context.Context, msg protocol.Message) error

type Bus struct {
	mu   sync.RWMutex
	subs map[protocol.Topic][]Handler

	journal Journal
	logger  *zap.Logger
	now     func() time.Time

	published       uint64
	dropped         uint64
	handlerFailures uint64
	journalFailures uint64
}

type Stats struct {
	Published       uint64
	Dropped         uint64
	HandlerFailures uint64
	JournalFailures uint64
}

func New(logger *zap.Logger, journal Journal) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if journal == nil {
		journal = NopJournal{}
	}
	return &Bus{
		subs:    map[protocol.Topic][]Handler{},
		journal: journal,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers h for topic. Handlers run in registration order and live
// as long as the bus.
func (b *Bus) Subscribe(topic protocol.Topic, h Handler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], h)
	b.mu.Unlock()
}

// Publish validates msg against its topic schema, journals it and delivers it.
// An invalid message is dropped and the *protocol.ValidationError returned;
// subscriber failures are logged and never returned.
func (b *Bus) Publish(ctx context.Context, msg protocol.Message) error {
	if b == nil {
		return nil
	}
	if msg == nil {
		return &protocol.ValidationError{Reason: "nil message"}
	}
	topic := msg.Topic()
	payload, err := protocol.ToPayload(msg)
	if err != nil {
		return b.drop(topic, err.Error())
	}
	if ok, reason := protocol.Validate(topic, payload); !ok {
		return b.drop(topic, reason)
	}
	b.deliver(ctx, topic, payload, msg)
	return nil
}

// PublishRaw is the entry point for untyped payloads arriving from outside the
// process. The payload is decoded into the topic's message type first.
func (b *Bus) PublishRaw(ctx context.Context, topic protocol.Topic, payload map[string]any) error {
	if b == nil {
		return nil
	}
	msg, err := protocol.Decode(topic, payload)
	if err != nil {
		reason := err.Error()
		if verr, ok := err.(*protocol.ValidationError); ok {
			reason = verr.Reason
		}
		return b.drop(topic, reason)
	}
	normalized, err := protocol.ToPayload(msg)
	if err != nil {
		return b.drop(topic, err.Error())
	}
	b.deliver(ctx, topic, normalized, msg)
	return nil
}

func (b *Bus) Stats() Stats {
	return Stats{
		Published:       atomic.LoadUint64(&b.published),
		Dropped:         atomic.LoadUint64(&b.dropped),
		HandlerFailures: atomic.LoadUint64(&b.handlerFailures),
		JournalFailures: atomic.LoadUint64(&b.journalFailures),
	}
}

func (b *Bus) drop(topic protocol.Topic, reason string) error {
	atomic.AddUint64(&b.dropped, 1)
	metrics.BusDropped.WithLabelValues(string(topic), "invalid").Inc()
	b.logger.Warn("bus: dropped invalid payload", zap.String("topic", string(topic)), zap.String("reason", reason))
	return &protocol.ValidationError{Topic: topic, Reason: reason}
}

func (b *Bus) deliver(ctx context.Context, topic protocol.Topic, payload map[string]any, msg protocol.Message) {
	if err := b.journal.Append(ctx, Entry{TS: b.now(), Topic: topic, Payload: payload}); err != nil {
		atomic.AddUint64(&b.journalFailures, 1)
		b.logger.Warn("bus: journal append failed", zap.String("topic", string(topic)), zap.Error(err))
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[topic]...)
	b.mu.RUnlock()

	atomic.AddUint64(&b.published, 1)
	metrics.BusPublished.WithLabelValues(string(topic)).Inc()
	for i, h := range handlers {
		if err := b.invoke(ctx, h, msg); err != nil {
			atomic.AddUint64(&b.handlerFailures, 1)
			metrics.BusHandlerFailures.WithLabelValues(string(topic)).Inc()
			b.logger.Error("bus: subscriber failed",
				zap.String("topic", string(topic)),
				zap.Int("subscriber", i),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, msg protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, msg)
}
