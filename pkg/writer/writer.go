// Package writer implements the batched persistence layer: messages are
// handed to a two-stage buffered writer (prepare queue + commit buffer)
// that flushes to its sink when either the batch size or the commit
// interval is reached. Message-id update events, produced when an
// adapter returns an upstream id after send, go through a separate,
// smaller batcher.
package writer

import (
	"context"
	"sync"
	"time"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

// Sink receives committed message batches. In production this is the
// database layer; tests use an in-memory recorder.
type Sink interface {
	WriteMessages(ctx context.Context, batch []*types.Message) error
}

// Config sizes the two-stage buffer.
type Config struct {
	CommitBatchSize  int
	CommitInterval   time.Duration
	PrepareQueueSize int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CommitBatchSize:  50,
		CommitInterval:   5 * time.Second,
		PrepareQueueSize: 512,
	}
}

// MessageWriter is the two-stage buffered writer: Enqueue feeds the
// prepare queue without blocking the caller's tick; a single background
// goroutine drains it into the commit buffer and flushes on size or
// time.
type MessageWriter struct {
	cfg  Config
	sink Sink

	prepare chan *types.Message

	mu     sync.Mutex
	buffer []*types.Message

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewMessageWriter builds a writer; call Start before enqueueing.
func NewMessageWriter(cfg Config, sink Sink) *MessageWriter {
	if cfg.CommitBatchSize <= 0 {
		cfg.CommitBatchSize = DefaultConfig().CommitBatchSize
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = DefaultConfig().CommitInterval
	}
	if cfg.PrepareQueueSize <= 0 {
		cfg.PrepareQueueSize = DefaultConfig().PrepareQueueSize
	}
	return &MessageWriter{
		cfg:     cfg,
		sink:    sink,
		prepare: make(chan *types.Message, cfg.PrepareQueueSize),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the drain loop. ctx cancellation behaves like Stop but
// without the final flush guarantee.
func (w *MessageWriter) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Enqueue hands a message to the prepare queue. When the queue is full
// the message is committed synchronously instead of being dropped.
func (w *MessageWriter) Enqueue(ctx context.Context, msg *types.Message) {
	select {
	case <-w.stopped:
		return
	default:
	}

	select {
	case w.prepare <- msg:
	default:
		logger.WarnCF("writer", "prepare queue full, committing inline", map[string]interface{}{"message_id": msg.MessageID})
		w.append(ctx, msg)
		w.flushIfFull(ctx)
	}
}

// Stop closes the prepare queue, waits for the drain loop, and performs
// a final flush.
func (w *MessageWriter) Stop(ctx context.Context) {
	w.stopOnce.Do(func() {
		close(w.stopped)
		close(w.prepare)
		<-w.done
		w.flush(ctx)
	})
}

func (w *MessageWriter) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-w.prepare:
			if !ok {
				return
			}
			w.append(ctx, msg)
			w.flushIfFull(ctx)
		case <-ticker.C:
			w.flush(ctx)
		case <-ctx.Done():
			w.flush(context.Background())
			return
		}
	}
}

func (w *MessageWriter) append(ctx context.Context, msg *types.Message) {
	w.mu.Lock()
	w.buffer = append(w.buffer, msg)
	w.mu.Unlock()
}

func (w *MessageWriter) flushIfFull(ctx context.Context) {
	w.mu.Lock()
	full := len(w.buffer) >= w.cfg.CommitBatchSize
	w.mu.Unlock()
	if full {
		w.flush(ctx)
	}
}

// flush commits the current buffer. On sink failure the batch is
// requeued in front of the buffer so the next flush retries it.
func (w *MessageWriter) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if err := w.sink.WriteMessages(ctx, batch); err != nil {
		logger.ErrorCF("writer", "commit failed, requeueing batch", map[string]interface{}{
			"batch_size": len(batch), "error": err.Error(),
		})
		w.mu.Lock()
		w.buffer = append(batch, w.buffer...)
		w.mu.Unlock()
	}
}

// Pending reports how many messages are waiting in the commit buffer,
// for tests and status reporting.
func (w *MessageWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}
