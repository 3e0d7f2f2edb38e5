package types

import (
	"fmt"

	"github.com/google/uuid"
)

// MemoryType tags the kind of fact a MemoryChunk records.
type MemoryType string

const (
	MemoryPersonalFact MemoryType = "personal_fact"
	MemoryEvent        MemoryType = "event"
	MemoryPreference   MemoryType = "preference"
	MemoryOpinion      MemoryType = "opinion"
	MemoryRelationship MemoryType = "relationship"
	MemoryEmotion      MemoryType = "emotion"
	MemoryKnowledge    MemoryType = "knowledge"
	MemorySkill        MemoryType = "skill"
	MemoryGoal         MemoryType = "goal"
	MemoryExperience   MemoryType = "experience"
	MemoryContextual   MemoryType = "contextual"
)

// ConfidenceLevel is a coarse 1..4 scale; memories are never stored at Low.
type ConfidenceLevel int

const (
	ConfidenceLow ConfidenceLevel = iota + 1
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceVeryHigh
)

// ImportanceLevel mirrors ConfidenceLevel's 1..4 scale for chunk importance.
type ImportanceLevel int

const (
	ImportanceLow ImportanceLevel = iota + 1
	ImportanceMedium
	ImportanceHigh
	ImportanceCritical
)

// MemoryChunk is a structured long-term fact: a subject-predicate-object
// triple plus a human-readable rendering and retrieval metadata.
type MemoryChunk struct {
	MemoryID string `json:"memory_id"`
	UserID   string `json:"user_id"`
	ChatID   string `json:"chat_id,omitempty"`

	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	Text      string `json:"text"`

	Keywords   []string `json:"keywords,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`

	MemoryType MemoryType `json:"memory_type"`

	Importance ImportanceLevel `json:"importance"`
	Confidence ConfidenceLevel `json:"confidence"`

	RelevanceScore float64 `json:"relevance_score"`
	AccessCount    int64   `json:"access_count"`
	LastAccessed   int64   `json:"last_accessed"`
	CreatedAt      int64   `json:"created_at"`

	Embedding []float32 `json:"-"`

	// SemanticHash is derived deterministically from the normalized text
	// and used for fusion/dedup comparisons and idempotent re-inserts.
	SemanticHash string `json:"semantic_hash"`

	SourceContext string `json:"source_context,omitempty"`
}

// NewMemoryChunk builds a MemoryChunk with a fresh uuid, created_at set
// to now (caller-supplied, since this package never reads the wall clock),
// and importance and confidence both at Medium.
func NewMemoryChunk(userID, subject, predicate, object, text string, now int64) *MemoryChunk {
	return &MemoryChunk{
		MemoryID:  uuid.NewString(),
		UserID:    userID,
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		Text:      text,
		CreatedAt: now,

		Importance: ImportanceMedium,
		Confidence: ConfidenceMedium,
	}
}

// Validate enforces the MemoryChunk invariants: non-empty subject and
// predicate, content length in [5, 500], and confidence never Low.
func (m *MemoryChunk) Validate() error {
	if m.Subject == "" {
		return fmt.Errorf("memory %s: subject must not be empty", m.MemoryID)
	}
	if m.Predicate == "" {
		return fmt.Errorf("memory %s: predicate must not be empty", m.MemoryID)
	}
	if l := len([]rune(m.Text)); l < 5 || l > 500 {
		return fmt.Errorf("memory %s: text length %d out of [5,500]", m.MemoryID, l)
	}
	if m.Confidence == ConfidenceLow {
		return fmt.Errorf("memory %s: confidence must not be low", m.MemoryID)
	}
	return nil
}

// InterestScore is the ephemeral, per-message output of the interest
// scorer: derived once per (message_id, bot_nickname) pair.
type InterestScore struct {
	MessageID          string  `json:"message_id"`
	BotNickname        string  `json:"bot_nickname"`
	InterestMatchScore float64 `json:"interest_match_score"`
	RelationshipScore  float64 `json:"relationship_score"`
	MentionedScore     float64 `json:"mentioned_score"`
	TotalScore         float64 `json:"total_score"`
}
