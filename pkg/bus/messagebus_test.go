package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/types"
)

func TestInMemoryBusPublishSubscribe(t *testing.T) {
	b := NewInMemoryBus()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(InboundMessage{StreamID: "s1", Message: types.NewMessage("qq", "u1", "hi", 1)})

	select {
	case in := <-ch:
		require.Equal(t, "s1", in.StreamID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestInMemoryBusSend(t *testing.T) {
	b := NewInMemoryBus()
	err := b.Send(context.Background(), OutboundMessage{StreamID: "s1", Text: "hello"})
	require.NoError(t, err)
	require.Len(t, b.Sent, 1)
	require.Equal(t, "hello", b.Sent[0].Text)
}

func TestInMemoryBusSendRequiresStreamID(t *testing.T) {
	b := NewInMemoryBus()
	err := b.Send(context.Background(), OutboundMessage{Text: "hello"})
	require.Error(t, err)
}

func TestStreamNotifierFlushPushesHeldBackText(t *testing.T) {
	var gotStream, got string
	sn := NewStreamNotifier("s1", time.Hour, func(streamID, full string) {
		gotStream, got = streamID, full
	})
	sn.Append("hello ") // the first delta always goes out immediately
	sn.Append("world")  // held back by the hour-long throttle
	require.Equal(t, "hello ", got)

	final := sn.Flush()
	require.Equal(t, "hello world", final)
	require.Equal(t, "hello world", got)
	require.Equal(t, "s1", gotStream)
	require.Equal(t, "hello world", sn.FullText())
}

func TestStreamNotifierThrottlesPushes(t *testing.T) {
	var pushes []string
	sn := NewStreamNotifier("s1", time.Minute, func(_, full string) {
		pushes = append(pushes, full)
	})
	current := time.Unix(1000, 0)
	sn.now = func() time.Time { return current }

	sn.Append("你") // zero lastPush: goes out immediately
	sn.Append("好") // inside the interval: held back
	require.Equal(t, []string{"你"}, pushes)

	current = current.Add(2 * time.Minute)
	sn.Append("呀") // interval elapsed: accumulated text goes out
	require.Equal(t, []string{"你", "你好呀"}, pushes)

	// Nothing held back, so the flush returns without another push.
	require.Equal(t, "你好呀", sn.Flush())
	require.Len(t, pushes, 2)
}
