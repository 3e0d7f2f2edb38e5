package interest

import (
	"fmt"

	"github.com/mofoxlab/corebot/pkg/kv"
	"github.com/mofoxlab/corebot/pkg/types"
)

// RelationshipTracker persists UserRelationship records through the KV
// store and serves per-user affinity scores. Records are created on
// first observation; score updates come from the user-profile
// background task, which calls Adjust.
type RelationshipTracker struct {
	store kv.Store
	base  float64
	now   func() int64
}

// NewRelationshipTracker wraps store. base seeds newly observed users.
func NewRelationshipTracker(store kv.Store, base float64, now func() int64) *RelationshipTracker {
	return &RelationshipTracker{store: store, base: base, now: now}
}

// Observe loads the relationship for (platform, userID), creating and
// persisting a record on first observation, seeded with the base score
// and staged from it.
func (t *RelationshipTracker) Observe(platform, userID string) (*types.UserRelationship, error) {
	rel := &types.UserRelationship{Platform: platform, UserID: userID}
	ok, err := t.store.Get(rel.Key(), rel)
	if err != nil {
		return nil, fmt.Errorf("interest: load relationship: %w", err)
	}
	if ok {
		return rel, nil
	}
	rel = types.NewUserRelationship(platform, userID, t.base, t.now())
	rel.RelationshipStage = stageFor(rel.RelationshipScore)
	if err := t.store.Set(rel.Key(), rel); err != nil {
		return nil, fmt.Errorf("interest: save relationship: %w", err)
	}
	return rel, nil
}

// Score returns the persisted affinity for (platform, userID), or base
// when the user has never been observed. Lookup failures also degrade
// to base so scoring never blocks on storage.
func (t *RelationshipTracker) Score(platform, userID string) float64 {
	rel := &types.UserRelationship{Platform: platform, UserID: userID}
	ok, err := t.store.Get(rel.Key(), rel)
	if err != nil || !ok {
		return t.base
	}
	return rel.RelationshipScore
}

// Adjust bumps the persisted score by delta (clamped to [0,1]),
// recomputes the stage, and returns the updated record.
func (t *RelationshipTracker) Adjust(platform, userID string, delta float64) (*types.UserRelationship, error) {
	rel, err := t.Observe(platform, userID)
	if err != nil {
		return nil, err
	}
	rel.RelationshipScore += delta
	rel.Clamp()
	rel.RelationshipStage = stageFor(rel.RelationshipScore)
	rel.UpdatedAt = t.now()
	if err := t.store.Set(rel.Key(), rel); err != nil {
		return nil, fmt.Errorf("interest: save relationship: %w", err)
	}
	return rel, nil
}

// stageFor buckets an affinity score into its named tier.
func stageFor(score float64) types.RelationshipStage {
	switch {
	case score >= 0.9:
		return types.StageBestie
	case score >= 0.75:
		return types.StageCloseFriend
	case score >= 0.6:
		return types.StageFriend
	case score >= 0.4:
		return types.StageFamiliar
	case score >= 0.2:
		return types.StageAcquaintance
	default:
		return types.StageStranger
	}
}
