// Package bus is the external message bus contract: the narrow
// send/receive surface the core requires from a transport it never
// implements itself, plus an in-memory implementation sufficient to
// drive and test the core end-to-end. Platform adapters (Telegram,
// Discord, …) are external collaborators and live outside this module.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/mofoxlab/corebot/pkg/types"
)

// InboundMessage wraps a types.Message with the stream it resolves into.
type InboundMessage struct {
	StreamID string
	Message  *types.Message
}

// OutboundMessage is the external send_message(stream_id, text,
// reply_to?) contract.
type OutboundMessage struct {
	StreamID string
	Text     string
	ReplyTo  string
}

// Bus is the narrow contract the core requires from a message transport:
// send_message(stream_id, text, reply_to?) and an inbound callback
// on_message(data). Concrete platform adapters implement this outside the
// module; InMemoryBus below exists to drive and test the core standalone.
type Bus interface {
	Send(ctx context.Context, out OutboundMessage) error
	Subscribe() (<-chan InboundMessage, func())
	Publish(in InboundMessage)
}

// InMemoryBus is a fan-out pub/sub over buffered channels: one buffered
// channel per subscriber, non-blocking publish that skips a full
// subscriber rather than stalling the publisher.
type InMemoryBus struct {
	mu          sync.Mutex
	subscribers map[int]chan InboundMessage
	nextID      int

	sentMu sync.Mutex
	Sent   []OutboundMessage
}

// NewInMemoryBus returns a ready-to-use in-process bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subscribers: make(map[int]chan InboundMessage)}
}

// Subscribe registers a new consumer and returns its channel plus an
// unsubscribe function.
func (b *InMemoryBus) Subscribe() (<-chan InboundMessage, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan InboundMessage, 256)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish fans an inbound message out to every current subscriber.
// Subscribers with a full channel are skipped rather than blocking the
// publisher.
func (b *InMemoryBus) Publish(in InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- in:
		default:
		}
	}
}

// Send records an outbound send. In production this is implemented by a
// platform adapter; here it only buffers so tests can assert on what the
// planner decided to send.
func (b *InMemoryBus) Send(ctx context.Context, out OutboundMessage) error {
	if out.StreamID == "" {
		return fmt.Errorf("bus: outbound message missing stream id")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.sentMu.Lock()
	b.Sent = append(b.Sent, out)
	b.sentMu.Unlock()
	return nil
}

var _ Bus = (*InMemoryBus)(nil)
