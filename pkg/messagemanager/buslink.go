package messagemanager

import (
	"context"

	"github.com/mofoxlab/corebot/pkg/bus"
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/planner"
)

// BusSendCallback adapts the transport bus's send contract to the
// planner's reply delivery hook, so reply actions go out through
// whatever adapter implements bus.Bus.
func BusSendCallback(b bus.Bus) planner.SendCallback {
	return func(ctx context.Context, streamID, content, replyTo string) error {
		return b.Send(ctx, bus.OutboundMessage{StreamID: streamID, Text: content, ReplyTo: replyTo})
	}
}

// BusReplyUpdateCallback adapts throttled partial-reply updates onto
// the bus; the transport decides whether each push edits the previous
// outgoing message in place or supersedes it.
func BusReplyUpdateCallback(b bus.Bus) planner.ReplyUpdateCallback {
	return func(streamID, partial string) {
		if err := b.Send(context.Background(), bus.OutboundMessage{StreamID: streamID, Text: partial}); err != nil {
			logger.WarnCF("messagemanager", "partial reply update failed", map[string]interface{}{
				"stream_id": streamID, "error": err.Error(),
			})
		}
	}
}

// ConsumeBus subscribes the manager to b's inbound feed and runs every
// message through the ingest protocol until ctx is cancelled or the
// subscription closes. Blocks; run it on its own goroutine.
func (m *Manager) ConsumeBus(ctx context.Context, b bus.Bus) {
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-ch:
			if !ok {
				return
			}
			if err := m.AddMessage(ctx, in.StreamID, in.Message); err != nil {
				logger.ErrorCF("messagemanager", "bus ingest failed", map[string]interface{}{
					"stream_id": in.StreamID, "error": err.Error(),
				})
			}
		}
	}
}
