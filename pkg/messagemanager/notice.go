package messagemanager

import (
	"sync"
	"time"

	"github.com/mofoxlab/corebot/pkg/types"
)

// NoticeScope says whether a notice fans out to every stream or stays
// with its originating stream.
type NoticeScope string

const (
	ScopePublic NoticeScope = "public"
	ScopeStream NoticeScope = "stream"
)

// Notice is one out-of-band event (poke, reaction, mute) held for
// prompt-building until its TTL expires.
type Notice struct {
	Message        *types.Message
	Scope          NoticeScope
	TargetStreamID string
	ExpiresAt      int64
}

// noticeTTLs maps notice types to their retention; unknown types get an
// hour.
var noticeTTLs = map[string]time.Duration{
	"poke":                 30 * time.Minute,
	"emoji_like":           time.Hour,
	"group_ban":            2 * time.Hour,
	"group_lift_ban":       2 * time.Hour,
	"group_whole_ban":      time.Hour,
	"group_whole_lift_ban": time.Hour,
}

const defaultNoticeTTL = time.Hour

// NoticeManager holds the process-wide notice set: public notices
// visible to every stream plus per-stream ones.
type NoticeManager struct {
	mu      sync.Mutex
	notices []Notice
}

// NewNoticeManager returns an empty manager.
func NewNoticeManager() *NoticeManager {
	return &NoticeManager{}
}

// Add records a notice. Scope PUBLIC ignores targetStreamID.
func (nm *NoticeManager) Add(msg *types.Message, scope NoticeScope, targetStreamID string, now int64) {
	ttl := defaultNoticeTTL
	if t, ok := noticeTTLs[msg.NoticeType]; ok {
		ttl = t
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if scope == ScopePublic {
		targetStreamID = ""
	}
	nm.notices = append(nm.notices, Notice{
		Message:        msg,
		Scope:          scope,
		TargetStreamID: targetStreamID,
		ExpiresAt:      now + int64(ttl/time.Second),
	})
}

// For returns the notices visible to streamID: all public ones plus the
// stream's own, expired entries pruned in passing.
func (nm *NoticeManager) For(streamID string, now int64) []Notice {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	kept := nm.notices[:0]
	var out []Notice
	for _, n := range nm.notices {
		if n.ExpiresAt <= now {
			continue
		}
		kept = append(kept, n)
		if n.Scope == ScopePublic || n.TargetStreamID == streamID {
			out = append(out, n)
		}
	}
	nm.notices = kept
	return out
}

// Clear drops notices, optionally restricted to one stream's scope.
// It returns how many were removed.
func (nm *NoticeManager) Clear(streamID string) int {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	kept := nm.notices[:0]
	removed := 0
	for _, n := range nm.notices {
		if streamID == "" || n.TargetStreamID == streamID {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	nm.notices = kept
	return removed
}
