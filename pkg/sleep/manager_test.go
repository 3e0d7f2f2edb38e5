package sleep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/kv"
	"github.com/mofoxlab/corebot/pkg/types"
)

type fixedPressure float64

func (p fixedPressure) SleepPressure() float64 { return float64(p) }

func newManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewManager(store, cfg, nil)
	require.NoError(t, err)
	return m
}

func alwaysAsleepWindow() WindowSource {
	return WindowSource{FixedStart: "00:00", FixedEnd: "23:59"}
}

func TestDisabledSystemForcesAwake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enable = false
	m := newManager(t, cfg)
	m.state.Phase = types.PhaseSleeping

	require.NoError(t, m.Update(time.Now(), fixedPressure(50)))
	require.Equal(t, types.PhaseAwake, m.state.Phase)
}

func TestAwakeEntersPreparingSleepWhenFlexible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = alwaysAsleepWindow()
	m := newManager(t, cfg)

	require.NoError(t, m.Update(time.Now(), fixedPressure(80)))
	require.Equal(t, types.PhasePreparingSleep, m.state.Phase)
	require.NotZero(t, m.state.SleepBufferEndTime)
}

func TestPreparingSleepEntersSleepingAfterBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = alwaysAsleepWindow()
	m := newManager(t, cfg)
	m.state.Phase = types.PhasePreparingSleep
	m.state.LastSleepCheckDate = time.Now().Format("2006-01-02")
	now := time.Now()
	m.state.SleepBufferEndTime = now.Add(-time.Second).Unix()

	require.NoError(t, m.Update(now, fixedPressure(80)))
	require.Equal(t, types.PhaseSleeping, m.state.Phase)
	require.NotZero(t, m.state.InsomniaCheckTime)
}

func TestSleepingEndsWhenWindowEnds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = WindowSource{} // never in window
	m := newManager(t, cfg)
	m.state.Phase = types.PhaseSleeping
	m.state.LastSleepCheckDate = time.Now().Format("2006-01-02")

	require.NoError(t, m.Update(time.Now(), fixedPressure(80)))
	require.Equal(t, types.PhaseAwake, m.state.Phase)
}

func TestResetAfterWakeupSchedulesRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReSleepDelayMinutes = 5
	m := newManager(t, cfg)
	m.state.Phase = types.PhaseSleeping

	now := time.Now()
	require.NoError(t, m.ResetAfterWakeup(now))
	require.Equal(t, types.PhaseWokenUp, m.state.Phase)
	require.InDelta(t, now.Add(5*time.Minute).Unix(), m.state.ReSleepAttemptTime, 1)
}
