package streamctx

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/types"
)

func msg(id string, t int64) *types.Message {
	return &types.Message{MessageID: id, Time: t, Platform: "qq", UserID: "u1", ProcessedPlainText: "hi"}
}

func TestAddMessageRoutesToUnreadWhenNotProcessing(t *testing.T) {
	s := New("stream1", DefaultConfig())
	ok := s.AddMessage(msg("m1", 1), false)
	require.True(t, ok)
	require.Equal(t, 1, s.UnreadCount())
}

func TestAddMessageCachesWhileProcessing(t *testing.T) {
	s := New("stream1", DefaultConfig())
	s.SetChatterProcessing(true)

	s.AddMessage(msg("m1", 1), false)
	require.Equal(t, 0, s.UnreadCount())

	moved := s.FlushCache()
	require.Len(t, moved, 1)
	require.Equal(t, 1, s.UnreadCount())
}

func TestAddMessageForceDirectBypassesCache(t *testing.T) {
	s := New("stream1", DefaultConfig())
	s.SetChatterProcessing(true)

	s.AddMessage(msg("m1", 1), true)
	require.Equal(t, 1, s.UnreadCount())
}

func TestAddMessageRejectsDuplicateID(t *testing.T) {
	s := New("stream1", DefaultConfig())
	require.True(t, s.AddMessage(msg("m1", 1), false))
	require.False(t, s.AddMessage(msg("m1", 2), false))
	require.Equal(t, 1, s.UnreadCount())
}

func TestMarkReadMovesToHistory(t *testing.T) {
	s := New("stream1", DefaultConfig())
	s.AddMessage(msg("m1", 1), false)
	s.MarkRead("m1")

	require.Equal(t, 0, s.UnreadCount())
	got := s.GetMessages(10, true)
	require.Len(t, got, 1)
	require.Equal(t, "m1", got[0].MessageID)
}

func TestMarkReadMissingIDIsNoop(t *testing.T) {
	s := New("stream1", DefaultConfig())
	require.NotPanics(t, func() { s.MarkRead("ghost") })
}

func TestMarkReadEvictsOldestHistoryBeyondMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextSize = 2
	s := New("stream1", cfg)

	for i, id := range []string{"m1", "m2", "m3"} {
		s.AddMessage(msg(id, int64(i)), false)
		s.MarkRead(id)
	}

	got := s.GetMessages(10, true)
	require.Len(t, got, 2)
	require.Equal(t, "m2", got[0].MessageID)
	require.Equal(t, "m3", got[1].MessageID)
}

func TestGetMessagesSortedAscendingAndLimited(t *testing.T) {
	s := New("stream1", DefaultConfig())
	s.AddMessage(msg("m2", 20), false)
	s.MarkRead("m2")
	s.AddMessage(msg("m1", 10), false)
	s.MarkRead("m1")

	got := s.GetMessages(1, true)
	require.Len(t, got, 1)
	require.Equal(t, "m2", got[0].MessageID)
}

func TestRecordDecisionBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDecisionLog = 2
	s := New("stream1", cfg)

	s.RecordDecision("t1", "no_action", 1)
	s.RecordDecision("t2", "reply", 2)
	s.RecordDecision("t3", "reply", 3)

	got := s.DecisionHistory()
	require.Len(t, got, 2)
	require.Equal(t, "t2", got[0].Thought)
	require.Equal(t, "t3", got[1].Thought)
}

func TestInterruptionCounters(t *testing.T) {
	s := New("stream1", DefaultConfig())
	s.IncrementInterruptionCount(5)
	require.Equal(t, 1, s.InterruptionCount)
	require.Equal(t, int64(5), s.LastInterruptionTime)

	s.ResetInterruptionCount()
	require.Equal(t, 0, s.InterruptionCount)
}

func TestInterruptionProbability(t *testing.T) {
	require.InDelta(t, 0.8, InterruptionProbability(0, 0.1, 3), 1e-9)
	require.Equal(t, 0.0, InterruptionProbability(3, 0.1, 3))
	require.Equal(t, 0.0, InterruptionProbability(10, 0.1, 3))
}

func TestInterruptionProbabilityDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const trials = 20000

	// The formula values at minProb=0.1, maxLimit=5.
	expected := map[int]float64{
		0: 1.4/2 + 0.1,
		1: 1.4/3 + 0.1,
		2: 1.4/4 + 0.1,
		3: 1.4/5 + 0.1,
		4: 1.4/6 + 0.1,
	}

	for count := 0; count <= 4; count++ {
		p := InterruptionProbability(count, 0.1, 5)
		hits := 0
		for i := 0; i < trials; i++ {
			if rng.Float64() < p {
				hits++
			}
		}
		observed := float64(hits) / trials
		require.InDelta(t, expected[count], observed, 0.02, "count=%d", count)
	}

	// At the cap the roll can never fire.
	require.Equal(t, 0.0, InterruptionProbability(5, 0.1, 5))
}

func TestDirtyFlagClearsOnRead(t *testing.T) {
	s := New("stream1", DefaultConfig())
	require.False(t, s.Dirty())
	s.AddMessage(msg("m1", 1), false)
	require.True(t, s.Dirty())
	require.False(t, s.Dirty())
}
