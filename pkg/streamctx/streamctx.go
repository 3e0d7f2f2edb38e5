// Package streamctx implements StreamContext: one struct per
// conversation that owns its message queues and exposes a small,
// race-free API. All mutation happens on the owning task under a single
// mutex; readers get copy-on-read snapshots.
package streamctx

import (
	"sort"
	"sync"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

// StreamContext owns one conversation's message queues: unread (ordered
// queue), history (bounded ring), and cache (active only while the
// chatter is processing). A message is in exactly one queue at a time.
type StreamContext struct {
	mu sync.Mutex

	ID     string
	cfg    Config

	unread  []*types.Message
	history []*types.Message
	cache   []*types.Message

	IsActive            bool
	IsChatterProcessing bool
	IsCacheEnabled      bool

	InterruptionCount     int
	LastInterruptionTime  int64
	NextCheckTime         int64
	DistributionInterval  int64

	decisionHistory []types.Decision

	dirty bool
}

// New creates a StreamContext for id. IsCacheEnabled defaults to true
// so messages buffer while the chatter is busy.
func New(id string, cfg Config) *StreamContext {
	return &StreamContext{
		ID:             id,
		cfg:            cfg,
		IsActive:       true,
		IsCacheEnabled: true,
	}
}

// inQueue reports whether any of {cache, unread, history} currently holds id.
func (s *StreamContext) inQueue(id string) bool {
	for _, m := range s.cache {
		if m.MessageID == id {
			return true
		}
	}
	for _, m := range s.unread {
		if m.MessageID == id {
			return true
		}
	}
	for _, m := range s.history {
		if m.MessageID == id {
			return true
		}
	}
	return false
}

// AddMessage enqueues msg. If caching is active and not bypassed, it goes
// to cache; otherwise the cache is flushed first and msg is appended to
// unread. Returns false if a message with the same id already exists
// anywhere in the stream (duplicate-id invariant).
func (s *StreamContext) AddMessage(msg *types.Message, forceDirect bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inQueue(msg.MessageID) {
		logger.WarnCF("streamctx", "rejected duplicate message id", map[string]interface{}{
			"stream_id": s.ID, "message_id": msg.MessageID,
		})
		return false
	}

	if s.IsCacheEnabled && s.IsChatterProcessing && !forceDirect {
		s.cache = append(s.cache, msg)
		s.dirty = true
		return true
	}

	s.flushCacheLocked()
	s.unread = append(s.unread, msg)
	s.dirty = true
	return true
}

// FlushCache moves all cached messages into unread, preserving order.
func (s *StreamContext) FlushCache() []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushCacheLocked()
}

func (s *StreamContext) flushCacheLocked() []*types.Message {
	if len(s.cache) == 0 {
		return nil
	}
	moved := s.cache
	s.unread = append(s.unread, moved...)
	s.cache = nil
	s.dirty = true
	return moved
}

// MarkRead moves the matching message from unread to history, evicting
// the oldest history entries while size exceeds MaxContextSize. Marking a
// non-existent id is a no-op, not an error.
func (s *StreamContext) MarkRead(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, m := range s.unread {
		if m.MessageID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	msg := s.unread[idx]
	s.unread = append(s.unread[:idx], s.unread[idx+1:]...)
	s.history = append(s.history, msg)

	max := s.cfg.MaxContextSize
	if max <= 0 {
		max = DefaultConfig().MaxContextSize
	}
	for len(s.history) > max {
		s.history = s.history[1:]
	}
	s.dirty = true
}

// GetMessages returns a copy-on-read snapshot of the latest limit
// messages sorted by time ascending. include_unread controls whether
// unread messages are folded into the result alongside history.
func (s *StreamContext) GetMessages(limit int, includeUnread bool) []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*types.Message, 0, len(s.history)+len(s.unread))
	all = append(all, s.history...)
	if includeUnread {
		all = append(all, s.unread...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time < all[j].Time })

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}

	out := make([]*types.Message, len(all))
	copy(out, all)
	return out
}

// RecordDecision appends to the bounded decision history (cap
// MaxDecisionLog); oldest entries are dropped silently.
func (s *StreamContext) RecordDecision(thought, action string, at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisionHistory = append(s.decisionHistory, types.Decision{Thought: thought, Action: action, Time: at})

	max := s.cfg.MaxDecisionLog
	if max <= 0 {
		max = DefaultConfig().MaxDecisionLog
	}
	for len(s.decisionHistory) > max {
		s.decisionHistory = s.decisionHistory[1:]
	}
	s.dirty = true
}

// DecisionHistory returns a copy of the bounded decision trail.
func (s *StreamContext) DecisionHistory() []types.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Decision, len(s.decisionHistory))
	copy(out, s.decisionHistory)
	return out
}

// IncrementInterruptionCount bumps the counter and marks the context dirty.
func (s *StreamContext) IncrementInterruptionCount(at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InterruptionCount++
	s.LastInterruptionTime = at
	s.dirty = true
}

// ResetInterruptionCount zeroes the counter.
func (s *StreamContext) ResetInterruptionCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InterruptionCount = 0
	s.dirty = true
}

// CacheLen returns the number of messages buffered in cache.
func (s *StreamContext) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// UnreadMessages returns a copy-on-read snapshot of the unread queue in
// arrival order.
func (s *StreamContext) UnreadMessages() []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Message, len(s.unread))
	copy(out, s.unread)
	return out
}

// UnreadCount returns the number of messages currently waiting in unread.
func (s *StreamContext) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unread)
}

// Dirty reports (and clears) whether state has changed since the last
// check, for the batched persistence layer to decide whether to persist.
func (s *StreamContext) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirty
	s.dirty = false
	return d
}

// SetChatterProcessing toggles the processing flag under the stream lock.
func (s *StreamContext) SetChatterProcessing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsChatterProcessing = v
	s.dirty = true
}

// State is the persisted slice of a StreamContext: the counters and
// decision trail that survive a restart. Queued messages are persisted
// separately through the batch writer, so they are not part of it.
type State struct {
	InterruptionCount    int              `json:"interruption_count"`
	LastInterruptionTime int64            `json:"last_interruption_time"`
	NextCheckTime        int64            `json:"next_check_time"`
	DistributionInterval int64            `json:"distribution_interval"`
	DecisionHistory      []types.Decision `json:"decision_history"`
}

// ExportState snapshots the persistable state under the stream lock.
func (s *StreamContext) ExportState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]types.Decision, len(s.decisionHistory))
	copy(history, s.decisionHistory)
	return State{
		InterruptionCount:    s.InterruptionCount,
		LastInterruptionTime: s.LastInterruptionTime,
		NextCheckTime:        s.NextCheckTime,
		DistributionInterval: s.DistributionInterval,
		DecisionHistory:      history,
	}
}

// RestoreState loads a previously exported snapshot. It does not mark
// the context dirty: restoring is not a change worth re-persisting.
func (s *StreamContext) RestoreState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InterruptionCount = st.InterruptionCount
	s.LastInterruptionTime = st.LastInterruptionTime
	s.NextCheckTime = st.NextCheckTime
	s.DistributionInterval = st.DistributionInterval
	s.decisionHistory = append([]types.Decision(nil), st.DecisionHistory...)
}
