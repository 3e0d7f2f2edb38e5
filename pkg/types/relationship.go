package types

// RelationshipStage buckets a UserRelationship's warmth into a named tier.
type RelationshipStage string

const (
	StageStranger     RelationshipStage = "stranger"
	StageAcquaintance RelationshipStage = "acquaintance"
	StageFamiliar     RelationshipStage = "familiar"
	StageFriend       RelationshipStage = "friend"
	StageCloseFriend  RelationshipStage = "close_friend"
	StageBestie       RelationshipStage = "bestie"
)

// KeyFactType enumerates the recognized kinds of KeyFact.value.
type KeyFactType string

const (
	FactBirthday KeyFactType = "birthday"
	FactJob      KeyFactType = "job"
	FactLocation KeyFactType = "location"
	FactDream    KeyFactType = "dream"
	FactFamily   KeyFactType = "family"
	FactPet      KeyFactType = "pet"
	FactOther    KeyFactType = "other"
)

// KeyFact is one remembered attribute about a user.
type KeyFact struct {
	Type  KeyFactType `json:"type"`
	Value string      `json:"value"`
}

// UserRelationship tracks the bot's affinity and accumulated knowledge
// about one (platform, user_id) pair. Created on first observation,
// updated only by the user-profile background task, persisted via the KV
// store.
type UserRelationship struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`

	RelationshipScore float64           `json:"relationship_score"` // [0,1]
	RelationshipStage RelationshipStage `json:"relationship_stage"`

	ImpressionText     string    `json:"impression_text,omitempty"`
	UserAliases        []string  `json:"user_aliases,omitempty"`
	PreferenceKeywords []string  `json:"preference_keywords,omitempty"`
	KeyFacts           []KeyFact `json:"key_facts,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// NewUserRelationship seeds a relationship at the stranger stage with the
// configured base relationship score.
func NewUserRelationship(platform, userID string, baseScore float64, now int64) *UserRelationship {
	return &UserRelationship{
		Platform:          platform,
		UserID:            userID,
		RelationshipScore: baseScore,
		RelationshipStage: StageStranger,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clamp keeps RelationshipScore within [0,1], matching the invariant.
func (r *UserRelationship) Clamp() {
	if r.RelationshipScore < 0 {
		r.RelationshipScore = 0
	}
	if r.RelationshipScore > 1 {
		r.RelationshipScore = 1
	}
}

// Key returns the KV store key this relationship is persisted under.
func (r *UserRelationship) Key() string {
	return "relationship:" + r.Platform + ":" + r.UserID
}
