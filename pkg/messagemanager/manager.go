// Package messagemanager is the global router: it owns the set of
// StreamContexts, runs the ingest protocol for every inbound message,
// and drives per-stream processing ticks through the scheduler
// dispatcher.
package messagemanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/mofoxlab/corebot/pkg/antiinjection"
	"github.com/mofoxlab/corebot/pkg/kv"
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/sleep"
	"github.com/mofoxlab/corebot/pkg/streamctx"
	"github.com/mofoxlab/corebot/pkg/types"
	"github.com/mofoxlab/corebot/pkg/writer"
)

// Config carries the manager's tunables.
type Config struct {
	Stream streamctx.Config

	// NoticeTriggerChat lets notice messages fall through into the chat
	// flow after being recorded.
	NoticeTriggerChat bool

	// MaxCacheSize is the backpressure bound: past it, cached messages
	// are merged into unread and an interruption check fires.
	MaxCacheSize int

	// DistributionInterval is how long a pending tick waits to batch up
	// closely spaced messages before processing starts.
	DistributionInterval time.Duration

	// ThinkingTimeout bounds one full tick.
	ThinkingTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Stream:               streamctx.DefaultConfig(),
		NoticeTriggerChat:    false,
		MaxCacheSize:         30,
		DistributionInterval: 2 * time.Second,
		ThinkingTimeout:      60 * time.Second,
	}
}

// Manager owns the stream set and the ingest protocol. Ticks are driven
// by the Dispatcher.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	streams map[string]*streamctx.StreamContext

	notices    *NoticeManager
	antiinject *antiinjection.Pipeline
	wakeup     *sleep.WakeUpManager
	sleeper    *sleep.Manager
	msgWriter  *writer.MessageWriter

	dispatcher *Dispatcher
	stateStore kv.Store

	now func() int64
}

// NewManager wires the manager. antiinject, wakeup, sleeper, and
// msgWriter may each be nil, disabling that step of the ingest
// protocol; the dispatcher is attached with SetDispatcher.
func NewManager(cfg Config, antiinject *antiinjection.Pipeline, sleeper *sleep.Manager, wakeup *sleep.WakeUpManager, msgWriter *writer.MessageWriter, now func() int64) *Manager {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = DefaultConfig().MaxCacheSize
	}
	return &Manager{
		cfg:        cfg,
		streams:    make(map[string]*streamctx.StreamContext),
		notices:    NewNoticeManager(),
		antiinject: antiinject,
		wakeup:     wakeup,
		sleeper:    sleeper,
		msgWriter:  msgWriter,
		now:        now,
	}
}

// SetDispatcher attaches the scheduler dispatcher that receives
// on-message notifications.
func (m *Manager) SetDispatcher(d *Dispatcher) { m.dispatcher = d }

// SetStateStore attaches the KV store that per-stream context state is
// persisted to. Optional: without one, stream state lives only in
// memory.
func (m *Manager) SetStateStore(store kv.Store) { m.stateStore = store }

func contextStateKey(streamID string) string {
	return "hfc_context_state_" + streamID
}

// PersistStreamState saves streamID's exported state if it changed
// since the last check.
func (m *Manager) PersistStreamState(streamID string) {
	if m.stateStore == nil {
		return
	}
	stream, ok := m.GetStream(streamID)
	if !ok || !stream.Dirty() {
		return
	}
	if err := m.stateStore.Set(contextStateKey(streamID), stream.ExportState()); err != nil {
		logger.ErrorCF("messagemanager", "failed to persist stream state", map[string]interface{}{
			"stream_id": streamID, "error": err.Error(),
		})
	}
}

// Notices exposes the notice manager for prompt building.
func (m *Manager) Notices() *NoticeManager { return m.notices }

// StreamID derives the stable conversation id: the SHA256 hash of
// "platform_rawid", with a "_private" suffix for direct chats.
func StreamID(platform, rawID string, private bool) string {
	key := platform + "_" + rawID
	if private {
		key += "_private"
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GetOrCreateStream resolves a StreamContext, creating it lazily.
func (m *Manager) GetOrCreateStream(streamID string) *streamctx.StreamContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[streamID]; ok {
		return s
	}
	s := streamctx.New(streamID, m.cfg.Stream)
	if m.stateStore != nil {
		var st streamctx.State
		ok, err := m.stateStore.Get(contextStateKey(streamID), &st)
		if err != nil {
			logger.WarnCF("messagemanager", "failed to load stream state", map[string]interface{}{
				"stream_id": streamID, "error": err.Error(),
			})
		} else if ok {
			s.RestoreState(st)
		}
	}
	m.streams[streamID] = s
	return s
}

// GetStream resolves an existing StreamContext without creating one.
func (m *Manager) GetStream(streamID string) (*streamctx.StreamContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[streamID]
	return s, ok
}

// AddMessage is the ingest protocol for one inbound message: emoji
// filter, notice routing, anti-injection, stream resolution, queue
// append, sleep wake-up accounting, then scheduler notification.
func (m *Manager) AddMessage(ctx context.Context, streamID string, msg *types.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("messagemanager: %w", err)
	}

	if msg.IsEmojiPrefixed() {
		logger.DebugCF("messagemanager", "filtered emoji message", map[string]interface{}{"stream_id": streamID})
		return nil
	}

	now := m.now()

	if msg.IsNotice() {
		scope := ScopeStream
		if msg.IsPublicNotice() {
			scope = ScopePublic
		}
		m.notices.Add(msg, scope, streamID, now)
		if !m.cfg.NoticeTriggerChat {
			return nil
		}
	}

	if m.antiinject != nil {
		result, modified, explanation := m.antiinject.ProcessMessage(ctx, msg)
		switch result {
		case antiinjection.ResultBlockedBan, antiinjection.ResultBlockedInjection:
			logger.InfoCF("messagemanager", "message blocked by anti-injection", map[string]interface{}{
				"stream_id": streamID, "result": string(result), "explanation": explanation,
			})
			return nil
		case antiinjection.ResultShielded, antiinjection.ResultCounterAttack:
			if modified != "" {
				msg.ProcessedPlainText = modified
			}
		}
	}

	stream := m.GetOrCreateStream(streamID)
	if !stream.AddMessage(msg, false) {
		return nil
	}

	// Backpressure: past the cache bound, fold cached messages into
	// unread so the interruption check below can abort the current tick.
	if stream.CacheLen() > m.cfg.MaxCacheSize {
		stream.FlushCache()
		logger.WarnCF("messagemanager", "cache bound exceeded, merged into unread", map[string]interface{}{
			"stream_id": streamID,
		})
	}

	if m.msgWriter != nil {
		m.msgWriter.Enqueue(ctx, msg)
	}

	if m.wakeup != nil && m.sleeper != nil && m.sleeper.IsSleeping() {
		isPrivate := msg.GroupID == ""
		if _, err := m.wakeup.AddWakeupValue(time.Unix(now, 0), isPrivate, msg.IsMentioned, streamID); err != nil {
			logger.ErrorCF("messagemanager", "wakeup accounting failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if m.dispatcher != nil {
		m.dispatcher.OnMessageReceived(streamID)
	}
	return nil
}

// MessageUpdate carries the optional post-hoc metadata fields.
type MessageUpdate struct {
	InterestValue *float64
	ShouldReply   *bool
	Actions       []string
}

// UpdateMessage applies a post-hoc metadata update to one message,
// searching both unread and history.
func (m *Manager) UpdateMessage(streamID, messageID string, update MessageUpdate) bool {
	stream, ok := m.GetStream(streamID)
	if !ok {
		return false
	}

	for _, msg := range stream.GetMessages(0, true) {
		if msg.MessageID != messageID {
			continue
		}
		if update.InterestValue != nil {
			msg.InterestValue = *update.InterestValue
		}
		if update.ShouldReply != nil {
			msg.ShouldReply = *update.ShouldReply
		}
		if len(update.Actions) > 0 {
			msg.Actions = append(msg.Actions, update.Actions...)
		}
		return true
	}
	return false
}

// ActiveStreamCount reports how many streams currently exist.
func (m *Manager) ActiveStreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
