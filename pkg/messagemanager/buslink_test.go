package messagemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/bus"
)

func TestConsumeBusFeedsIngest(t *testing.T) {
	cfg := DefaultConfig()
	m, _, _ := newTestHarness(t, cfg, nil)

	b := bus.NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.ConsumeBus(ctx, b)
		close(done)
	}()

	// Give the consumer a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	b.Publish(bus.InboundMessage{StreamID: "s1", Message: userMessage("m1", "你好")})

	require.Eventually(t, func() bool {
		stream, ok := m.GetStream("s1")
		return ok && stream.UnreadCount() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

func TestBusSendCallbackDeliversOutbound(t *testing.T) {
	b := bus.NewInMemoryBus()
	send := BusSendCallback(b)

	require.NoError(t, send(context.Background(), "s1", "晚上好", "m9"))

	require.Len(t, b.Sent, 1)
	require.Equal(t, bus.OutboundMessage{StreamID: "s1", Text: "晚上好", ReplyTo: "m9"}, b.Sent[0])
}
