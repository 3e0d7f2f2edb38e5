package messagemanager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/kv"
)

func TestStreamStatePersistedAndRestored(t *testing.T) {
	cfg := DefaultConfig()
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m, _, _ := newTestHarness(t, cfg, nil)
	m.SetStateStore(store)

	stream := m.GetOrCreateStream("s1")
	stream.IncrementInterruptionCount(1500)
	stream.RecordDecision("回复了问候", "reply", 1500)
	m.PersistStreamState("s1")

	// A fresh manager, as after a restart, restores the counters and the
	// decision trail from the store.
	m2, _, _ := newTestHarness(t, cfg, nil)
	m2.SetStateStore(store)
	restored := m2.GetOrCreateStream("s1")
	require.Equal(t, 1, restored.InterruptionCount)
	require.Equal(t, int64(1500), restored.LastInterruptionTime)
	require.Len(t, restored.DecisionHistory(), 1)
}

func TestPersistSkipsCleanStreams(t *testing.T) {
	cfg := DefaultConfig()
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m, _, _ := newTestHarness(t, cfg, nil)
	m.SetStateStore(store)

	stream := m.GetOrCreateStream("s1")
	require.False(t, stream.Dirty())
	m.PersistStreamState("s1")

	keys, err := store.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)
}
