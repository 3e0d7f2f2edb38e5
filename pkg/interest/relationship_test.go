package interest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/kv"
)

func newTracker(t *testing.T) *RelationshipTracker {
	t.Helper()
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewRelationshipTracker(store, 0.3, func() int64 { return 1000 })
}

func TestObserveCreatesBaseScoreRecord(t *testing.T) {
	tr := newTracker(t)

	rel, err := tr.Observe("qq", "u1")
	require.NoError(t, err)
	require.InDelta(t, 0.3, rel.RelationshipScore, 1e-9)
	require.Equal(t, "acquaintance", string(rel.RelationshipStage))
	require.Equal(t, int64(1000), rel.CreatedAt)

	// Re-observing returns the persisted record, not a new one.
	again, err := tr.Observe("qq", "u1")
	require.NoError(t, err)
	require.Equal(t, rel.CreatedAt, again.CreatedAt)
}

func TestScoreFallsBackToBaseForUnknownUser(t *testing.T) {
	tr := newTracker(t)
	require.InDelta(t, 0.3, tr.Score("qq", "nobody"), 1e-9)
}

func TestAdjustClampsAndRecomputesStage(t *testing.T) {
	tr := newTracker(t)

	rel, err := tr.Adjust("qq", "u1", 0.7)
	require.NoError(t, err)
	require.InDelta(t, 1.0, rel.RelationshipScore, 1e-9)
	require.Equal(t, "bestie", string(rel.RelationshipStage))

	rel, err = tr.Adjust("qq", "u1", -2.0)
	require.NoError(t, err)
	require.Zero(t, rel.RelationshipScore)
	require.Equal(t, "stranger", string(rel.RelationshipStage))
}

func TestScorerReadsTrackedRelationship(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.Adjust("qq", "u1", 0.4) // 0.3 base + 0.4
	require.NoError(t, err)

	s := NewScorer(DefaultConfig(), nil)
	s.AttachRelationships(tr)
	require.InDelta(t, 0.7, s.relationshipScore("qq", "u1"), 1e-9)
}
