package bus

import (
	"sync"
	"time"
)

// StreamNotifier throttles partial-reply delivery for one in-flight
// reply on one stream: text deltas accumulate as they are generated,
// and the full text so far is pushed to the transport at most once per
// interval, with a guaranteed final push on Flush. Pushes happen on the
// appending goroutine, so a notifier needs no background loop and
// cannot outlive the reply that created it.
type StreamNotifier struct {
	mu       sync.Mutex
	streamID string
	interval time.Duration
	onUpdate func(streamID, fullText string)

	text     string
	pushed   string
	lastPush time.Time

	now func() time.Time
}

// NewStreamNotifier creates a notifier for one reply on streamID.
// onUpdate receives the full accumulated text, never a bare delta, so
// the transport can edit the outgoing message in place.
func NewStreamNotifier(streamID string, interval time.Duration, onUpdate func(streamID, fullText string)) *StreamNotifier {
	return &StreamNotifier{
		streamID: streamID,
		interval: interval,
		onUpdate: onUpdate,
		now:      time.Now,
	}
}

// Append adds a generated delta. If the throttle interval has elapsed
// since the last push, the accumulated text goes out immediately.
func (sn *StreamNotifier) Append(delta string) {
	sn.mu.Lock()
	sn.text += delta
	due := sn.text != sn.pushed && sn.now().Sub(sn.lastPush) >= sn.interval
	var text string
	if due {
		text = sn.text
		sn.pushed = text
		sn.lastPush = sn.now()
	}
	sn.mu.Unlock()

	if due && sn.onUpdate != nil {
		sn.onUpdate(sn.streamID, text)
	}
}

// Flush pushes any text the throttle was still holding back and
// returns the final accumulated reply.
func (sn *StreamNotifier) Flush() string {
	sn.mu.Lock()
	text := sn.text
	final := text != "" && text != sn.pushed
	sn.pushed = text
	sn.mu.Unlock()

	if final && sn.onUpdate != nil {
		sn.onUpdate(sn.streamID, text)
	}
	return text
}

// FullText returns the text accumulated so far.
func (sn *StreamNotifier) FullText() string {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	return sn.text
}
