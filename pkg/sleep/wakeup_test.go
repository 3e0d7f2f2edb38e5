package sleep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/kv"
	"github.com/mofoxlab/corebot/pkg/types"
)

func newTestManagerSleeping(t *testing.T) *Manager {
	t.Helper()
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	cfg := DefaultConfig()
	m, err := NewManager(store, cfg, nil)
	require.NoError(t, err)
	m.state.Phase = types.PhaseSleeping
	return m
}

type fakeMood struct {
	angrySet   string
	angryClear string
}

func (f *fakeMood) SetAngry(chatID string)   { f.angrySet = chatID }
func (f *fakeMood) ClearAngry(chatID string) { f.angryClear = chatID }

func TestAddWakeupValueIgnoredWhenNotSleeping(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewManager(store, DefaultConfig(), nil)
	require.NoError(t, err)

	w, err := NewWakeUpManager(store, DefaultConfig(), m, nil)
	require.NoError(t, err)

	triggered, err := w.AddWakeupValue(time.Now(), true, false, "chat1")
	require.NoError(t, err)
	require.False(t, triggered)
	require.Zero(t, w.state.WakeupValue)
}

func TestAddWakeupValuePrivateChatAlwaysIncrements(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	m := newTestManagerSleeping(t)
	cfg := DefaultConfig()

	w, err := NewWakeUpManager(store, cfg, m, nil)
	require.NoError(t, err)

	_, err = w.AddWakeupValue(time.Now(), true, false, "chat1")
	require.NoError(t, err)
	require.Equal(t, cfg.PrivateMessageIncrement, w.state.WakeupValue)
}

func TestAddWakeupValueGroupChatRequiresMention(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	m := newTestManagerSleeping(t)
	w, err := NewWakeUpManager(store, DefaultConfig(), m, nil)
	require.NoError(t, err)

	triggered, err := w.AddWakeupValue(time.Now(), false, false, "chat1")
	require.NoError(t, err)
	require.False(t, triggered)
	require.Zero(t, w.state.WakeupValue)
}

func TestAddWakeupValueTriggersAngryOnThreshold(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	m := newTestManagerSleeping(t)
	cfg := DefaultConfig()
	cfg.WakeupThreshold = 10
	cfg.PrivateMessageIncrement = 10

	mood := &fakeMood{}
	w, err := NewWakeUpManager(store, cfg, m, mood)
	require.NoError(t, err)

	now := time.Now()
	triggered, err := w.AddWakeupValue(now, true, false, "chat1")
	require.NoError(t, err)
	require.True(t, triggered)
	require.Equal(t, "chat1", mood.angrySet)
	require.True(t, w.state.IsAngry)
	require.Zero(t, w.state.WakeupValue)
	require.Equal(t, types.PhaseWokenUp, m.state.Phase)
}

func TestIsInAngryStateExpires(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	m := newTestManagerSleeping(t)
	cfg := DefaultConfig()
	cfg.AngryDuration = time.Minute

	mood := &fakeMood{}
	w, err := NewWakeUpManager(store, cfg, m, mood)
	require.NoError(t, err)

	now := time.Now()
	w.state.IsAngry = true
	w.state.AngryStartTime = now.Add(-2 * time.Minute).Unix()
	w.state.AngryChatID = "chat1"

	require.False(t, w.IsInAngryState(now))
	require.Equal(t, "chat1", mood.angryClear)
}
