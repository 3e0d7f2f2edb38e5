// Package types holds the plain data structures shared across the core:
// Message, MemoryChunk, InterestScore, UserRelationship, BanRecord,
// SleepState and WakeUpState.
package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ReplyReference points a message at the one it is replying to.
type ReplyReference struct {
	MessageID string `json:"message_id"`
	Preview   string `json:"preview,omitempty"`
}

// Message is one atomic event in a conversation stream.
type Message struct {
	MessageID string `json:"message_id"`
	Time      int64  `json:"time"` // unix seconds

	Platform     string `json:"platform"`
	UserID       string `json:"user_id"`
	UserNickname string `json:"user_nickname"`
	GroupID      string `json:"group_id,omitempty"`

	ProcessedPlainText string          `json:"processed_plain_text"`
	DisplayMessage     string          `json:"display_message"`
	ReplyTo            *ReplyReference `json:"reply_to,omitempty"`

	IsMentioned bool   `json:"is_mentioned"`
	IsEmoji     bool   `json:"is_emoji"`
	IsPicID     bool   `json:"is_picid"`
	IsNotify    bool   `json:"is_notify"`
	IsCommand   bool   `json:"is_command"`
	NoticeType  string `json:"notice_type,omitempty"`

	// additional_config carries adapter-specific routing hints such as
	// is_notice / is_public_notice / thread_id.
	AdditionalConfig map[string]string `json:"additional_config,omitempty"`

	// Derived fields, filled in by the interest scorer and planner.
	InterestValue float64  `json:"interest_value"`
	ShouldReply   bool     `json:"should_reply"`
	ShouldAct     bool     `json:"should_act"`
	Actions       []string `json:"actions,omitempty"`
	KeyWords      []string `json:"key_words,omitempty"`
}

// NewMessage builds a Message, assigning a UUID message id when the caller
// doesn't supply one.
func NewMessage(platform, userID, text string, at int64) *Message {
	return &Message{
		MessageID:          uuid.NewString(),
		Time:               at,
		Platform:           platform,
		UserID:             userID,
		ProcessedPlainText: text,
		DisplayMessage:     text,
	}
}

// IsNotice reports whether the message should be routed to the notice
// manager instead of being treated as chat.
func (m *Message) IsNotice() bool {
	if m.IsNotify {
		return true
	}
	return m.AdditionalConfig["is_notice"] == "true"
}

// IsPublicNotice reports whether a notice fans out to every stream or is
// scoped to its originating stream only.
func (m *Message) IsPublicNotice() bool {
	return m.AdditionalConfig["is_public_notice"] == "true"
}

// Validate enforces the invariants a StreamContext assumes about any
// message it is handed: a non-empty id and a non-empty platform/user.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.MessageID) == "" {
		return fmt.Errorf("message: message_id must not be empty")
	}
	if strings.TrimSpace(m.Platform) == "" {
		return fmt.Errorf("message %s: platform must not be empty", m.MessageID)
	}
	return nil
}

// IsEmojiPrefixed matches the ingest-time emoji rejection rule.
func (m *Message) IsEmojiPrefixed() bool {
	return strings.HasPrefix(m.ProcessedPlainText, "[表情包")
}
