package writer

import (
	"context"
	"sync"
	"time"

	"github.com/mofoxlab/corebot/pkg/logger"
)

// IDUpdate maps a locally minted message id to the upstream id the
// platform adapter reported after send. message_id is effectively
// write-once-late: readers that captured the local id keep working, the
// stored row gains the upstream id on the next batch commit.
type IDUpdate struct {
	StreamID   string
	LocalID    string
	UpstreamID string
}

// IDUpdateSink receives committed id-update batches.
type IDUpdateSink interface {
	UpdateMessageIDs(ctx context.Context, batch []IDUpdate) error
}

// IDUpdateBatcher buffers id updates and flushes on a smaller batch size
// and shorter interval than the message writer, since these rows are
// tiny and latency-sensitive (readers want the upstream id soon).
type IDUpdateBatcher struct {
	sink      IDUpdateSink
	batchSize int
	interval  time.Duration

	mu     sync.Mutex
	buffer []IDUpdate

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewIDUpdateBatcher builds a batcher with the given size/interval;
// non-positive values fall back to 10 updates / 1 second.
func NewIDUpdateBatcher(sink IDUpdateSink, batchSize int, interval time.Duration) *IDUpdateBatcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &IDUpdateBatcher{
		sink:      sink,
		batchSize: batchSize,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the periodic flush loop.
func (b *IDUpdateBatcher) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flush(ctx)
			case <-b.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Add buffers one id update, flushing when the batch size is reached.
func (b *IDUpdateBatcher) Add(ctx context.Context, u IDUpdate) {
	b.mu.Lock()
	b.buffer = append(b.buffer, u)
	full := len(b.buffer) >= b.batchSize
	b.mu.Unlock()
	if full {
		b.flush(ctx)
	}
}

// Stop halts the loop and flushes what remains.
func (b *IDUpdateBatcher) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		close(b.stop)
		<-b.done
		b.flush(ctx)
	})
}

func (b *IDUpdateBatcher) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buffer
	b.buffer = nil
	b.mu.Unlock()

	if err := b.sink.UpdateMessageIDs(ctx, batch); err != nil {
		logger.ErrorCF("writer", "id update commit failed, requeueing", map[string]interface{}{
			"batch_size": len(batch), "error": err.Error(),
		})
		b.mu.Lock()
		b.buffer = append(batch, b.buffer...)
		b.mu.Unlock()
	}
}
