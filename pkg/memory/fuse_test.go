package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/types"
)

func fuseChunk(user, text string, createdAt int64) *types.MemoryChunk {
	m := types.NewMemoryChunk(user, user, "likes", text, text, createdAt)
	m.MemoryType = types.MemoryPreference
	normalizeMemory(m, createdAt)
	return m
}

func TestFuseMergesIdenticalSemanticHash(t *testing.T) {
	f := NewFuser(DefaultFuseConfig())
	now := time.Now().Unix()

	existing := fuseChunk("u1", "u1 likes 猫", now-60)
	existing.AccessCount = 2
	fresh := fuseChunk("u1", "u1 likes 猫", now)
	fresh.Confidence = types.ConfidenceVeryHigh

	out := f.Fuse([]*types.MemoryChunk{fresh}, []*types.MemoryChunk{existing}, now)

	require.Len(t, out, 1)
	require.Equal(t, existing.MemoryID, out[0].MemoryID)
	// The merge keeps the stronger confidence and accumulates usage.
	require.Equal(t, types.ConfidenceVeryHigh, out[0].Confidence)
	require.EqualValues(t, 2, out[0].AccessCount)
}

func TestFuseKeepsDistinctFacts(t *testing.T) {
	f := NewFuser(DefaultFuseConfig())
	now := time.Now().Unix()

	a := fuseChunk("u1", "u1 likes 猫", now)
	b := fuseChunk("u1", "u1 likes 编程和爬山", now)

	out := f.Fuse([]*types.MemoryChunk{a, b}, nil, now)
	require.Len(t, out, 2)
}

func TestFuseIgnoresExistingOutsideWindow(t *testing.T) {
	cfg := DefaultFuseConfig()
	f := NewFuser(cfg)
	now := time.Now().Unix()

	old := fuseChunk("u1", "u1 likes 猫", now-int64(cfg.Window/time.Second)-10)
	fresh := fuseChunk("u1", "u1 likes 猫", now)

	out := f.Fuse([]*types.MemoryChunk{fresh}, []*types.MemoryChunk{old}, now)

	require.Len(t, out, 1)
	require.Equal(t, fresh.MemoryID, out[0].MemoryID)
}

func TestFuseNeverMergesAcrossUsers(t *testing.T) {
	f := NewFuser(DefaultFuseConfig())
	now := time.Now().Unix()

	mine := fuseChunk("u1", "u1 likes 猫", now)
	theirs := fuseChunk("u2", "u1 likes 猫", now-30)

	out := f.Fuse([]*types.MemoryChunk{mine}, []*types.MemoryChunk{theirs}, now)

	require.Len(t, out, 1)
	require.Equal(t, mine.MemoryID, out[0].MemoryID)
}
