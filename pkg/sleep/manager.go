package sleep

import (
	"math/rand"
	"time"

	"github.com/mofoxlab/corebot/pkg/kv"
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

const stateKey = "schedule_sleep_state"

// NotificationSender is the narrow collaborator the manager calls on
// entering PREPARING_SLEEP (goodnight) or INSOMNIA (insomnia reason).
// Optional: a nil sender simply skips notification.
type NotificationSender interface {
	SendGoodnight()
	SendInsomnia(reason string)
}

// PressureSource reports the current sleep pressure ([0,100]), read
// from the WakeUpManager in production wiring.
type PressureSource interface {
	SleepPressure() float64
}

// Manager is the SleepManager state machine. All transition
// methods take `now` explicitly; the package never reads the wall
// clock, matching the rest of this module's discipline.
type Manager struct {
	store  kv.Store
	cfg    Config
	notify NotificationSender

	state *types.SleepState

	lastSleepLogTime int64
}

// NewManager loads (or initializes) sleep state from store.
func NewManager(store kv.Store, cfg Config, notify NotificationSender) (*Manager, error) {
	m := &Manager{store: store, cfg: cfg, notify: notify}
	var state types.SleepState
	ok, err := store.Get(stateKey, &state)
	if err != nil {
		return nil, err
	}
	if ok {
		m.state = &state
	} else {
		m.state = types.NewSleepState()
	}
	return m, nil
}

// State returns a copy of the current sleep state.
func (m *Manager) State() types.SleepState { return *m.state }

// IsSleeping reports whether the manager is currently in SLEEPING.
func (m *Manager) IsSleeping() bool { return m.state.Phase == types.PhaseSleeping }

// IsWokenUp reports whether the manager is currently in WOKEN_UP.
func (m *Manager) IsWokenUp() bool { return m.state.Phase == types.PhaseWokenUp }

func (m *Manager) save() error { return m.store.Set(stateKey, m.state) }

// Update runs the state machine's per-tick dispatch. pressure may be
// nil when no WakeUpManager is wired, degrading flexible-sleep delay
// computation to the fixed 1-3 minute buffer.
func (m *Manager) Update(now time.Time, pressure PressureSource) error {
	if !m.cfg.Enable {
		if m.state.Phase != types.PhaseAwake {
			m.state.Phase = types.PhaseAwake
			return m.save()
		}
		return nil
	}

	today := now.Format("2006-01-02")
	if m.state.LastSleepCheckDate != today {
		logger.InfoCF("sleep", "new day, resetting daily sleep state", map[string]interface{}{"date": today})
		m.state.TotalDelayedMinutesToday = 0
		m.state.Phase = types.PhaseAwake
		m.state.SleepBufferEndTime = 0
		m.state.LastSleepCheckDate = today
		if err := m.save(); err != nil {
			return err
		}
	}

	inWindow, activity := m.cfg.Window.InTheoreticalSleepTime(now)

	switch m.state.Phase {
	case types.PhaseAwake:
		if inWindow {
			return m.handleAwakeToSleep(now, activity, pressure)
		}
	case types.PhasePreparingSleep:
		return m.handlePreparingSleep(now, inWindow)
	case types.PhaseSleeping:
		return m.handleSleeping(now, inWindow, pressure)
	case types.PhaseInsomnia:
		return m.handleInsomnia(now, inWindow)
	case types.PhaseWokenUp:
		return m.handleWokenUp(now, inWindow, pressure)
	}
	return nil
}

func (m *Manager) handleAwakeToSleep(now time.Time, activity string, pressure PressureSource) error {
	logger.InfoCF("sleep", "entering theoretical sleep time", map[string]interface{}{"activity": activity})

	if !m.cfg.EnableFlexibleSleep {
		if m.notify != nil && m.cfg.EnablePreSleepNotification {
			m.notify.SendGoodnight()
		}
		m.state.Phase = types.PhaseSleeping
		return m.save()
	}

	if pressure == nil {
		bufferSeconds := randomRange(60, 180)
		m.state.SleepBufferEndTime = now.Add(time.Duration(bufferSeconds) * time.Second).Unix()
		m.state.Phase = types.PhasePreparingSleep
		logger.WarnCF("sleep", "no pressure source wired, using default 1-3 minute delay", nil)
		return m.save()
	}

	sleepPressure := pressure.SleepPressure()
	threshold := m.cfg.FlexibleSleepPressureThreshold
	maxDelay := m.cfg.MaxSleepDelayMinutes

	var bufferSeconds int
	if sleepPressure <= threshold {
		pressureDiff := (threshold - sleepPressure) / threshold
		delayMinutes := int(pressureDiff * float64(maxDelay))

		remaining := float64(maxDelay) - m.state.TotalDelayedMinutesToday
		if float64(delayMinutes) > remaining {
			delayMinutes = int(remaining)
		}

		if delayMinutes > 0 {
			bufferSeconds = randomRange(int(float64(delayMinutes)*0.8*60), int(float64(delayMinutes)*1.2*60))
			m.state.TotalDelayedMinutesToday += float64(bufferSeconds) / 60.0
			logger.InfoCF("sleep", "low sleep pressure, delaying sleep", map[string]interface{}{
				"pressure": sleepPressure, "delay_minutes": float64(bufferSeconds) / 60.0,
			})
		} else {
			bufferSeconds = randomRange(60, 120)
			logger.InfoCF("sleep", "daily delay budget exhausted, short preparation", nil)
		}
	} else {
		bufferSeconds = randomRange(60, 120)
		logger.InfoCF("sleep", "high sleep pressure, short preparation", map[string]interface{}{"pressure": sleepPressure})
	}

	if m.notify != nil && m.cfg.EnablePreSleepNotification {
		m.notify.SendGoodnight()
	}

	m.state.SleepBufferEndTime = now.Add(time.Duration(bufferSeconds) * time.Second).Unix()
	m.state.Phase = types.PhasePreparingSleep
	return m.save()
}

func (m *Manager) handlePreparingSleep(now time.Time, inWindow bool) error {
	if !inWindow {
		logger.InfoCF("sleep", "left theoretical sleep time while preparing, canceling sleep", nil)
		m.state.Phase = types.PhaseAwake
		m.state.SleepBufferEndTime = 0
		return m.save()
	}

	if m.state.SleepBufferEndTime != 0 && now.Unix() >= m.state.SleepBufferEndTime {
		logger.InfoCF("sleep", "sleep buffer elapsed, entering sleep", nil)
		m.state.Phase = types.PhaseSleeping

		delayMinutes := randomRange(m.cfg.InsomniaTriggerDelayMinutesMin, m.cfg.InsomniaTriggerDelayMinutesMax)
		m.state.InsomniaCheckTime = now.Add(time.Duration(delayMinutes) * time.Minute).Unix()
		logger.InfoCF("sleep", "post-sleep insomnia check scheduled", map[string]interface{}{"in_minutes": delayMinutes})
		return m.save()
	}
	return nil
}

func (m *Manager) handleSleeping(now time.Time, inWindow bool, pressure PressureSource) error {
	if !inWindow {
		logger.InfoCF("sleep", "theoretical sleep time ended, waking naturally", nil)
		m.state.Phase = types.PhaseAwake
		return m.save()
	}

	if m.state.InsomniaCheckTime == 0 || now.Unix() < m.state.InsomniaCheckTime {
		return nil
	}
	if pressure == nil {
		return nil
	}

	sleepPressure := pressure.SleepPressure()

	chance, reason := m.insomniaChance(sleepPressure)
	if chance <= 0 || rand.Float64() >= chance {
		m.state.InsomniaCheckTime = 0
		return m.save()
	}

	durationMinutes := randomRange(m.cfg.InsomniaDurationMinutesMin, m.cfg.InsomniaDurationMinutesMax)
	m.state.Phase = types.PhaseInsomnia
	m.state.InsomniaCheckTime = now.Add(time.Duration(durationMinutes) * time.Minute).Unix()
	if m.notify != nil {
		m.notify.SendInsomnia(reason)
	}
	logger.InfoCF("sleep", "post-sleep insomnia triggered", map[string]interface{}{"reason": reason, "duration_minutes": durationMinutes})
	return m.save()
}

// insomniaChance implements the trigger policy: a deep sleeper never
// gets insomnia; below the flexible-sleep pressure threshold the low-
// pressure chance applies, otherwise the smaller residual chance.
func (m *Manager) insomniaChance(sleepPressure float64) (float64, string) {
	if m.cfg.DeepSleepThreshold > 0 && sleepPressure >= m.cfg.DeepSleepThreshold {
		return 0, "deep_sleep"
	}
	if sleepPressure < m.cfg.FlexibleSleepPressureThreshold {
		return m.cfg.InsomniaChanceLowPressure, "low_pressure"
	}
	return m.cfg.InsomniaChanceNormalPressure, "normal_pressure"
}

func (m *Manager) handleInsomnia(now time.Time, inWindow bool) error {
	if !inWindow {
		logger.InfoCF("sleep", "left theoretical sleep time, insomnia ends", nil)
		m.state.Phase = types.PhaseAwake
		m.state.InsomniaCheckTime = 0
		return m.save()
	}
	if m.state.InsomniaCheckTime != 0 && now.Unix() >= m.state.InsomniaCheckTime {
		logger.InfoCF("sleep", "insomnia duration elapsed, resuming sleep", nil)
		m.state.Phase = types.PhaseSleeping
		m.state.InsomniaCheckTime = 0
		return m.save()
	}
	return nil
}

func (m *Manager) handleWokenUp(now time.Time, inWindow bool, pressure PressureSource) error {
	if !inWindow {
		logger.InfoCF("sleep", "theoretical sleep time ended, woken_up state auto-ends", nil)
		m.state.Phase = types.PhaseAwake
		m.state.ReSleepAttemptTime = 0
		return m.save()
	}

	if m.state.ReSleepAttemptTime == 0 || now.Unix() < m.state.ReSleepAttemptTime {
		return nil
	}
	if pressure == nil {
		return nil
	}

	sleepPressure := pressure.SleepPressure()
	threshold := m.cfg.FlexibleSleepPressureThreshold

	if sleepPressure >= threshold {
		logger.InfoCF("sleep", "sleep pressure sufficient, re-attempting sleep", nil)
		bufferSeconds := randomRange(180, 480)
		m.state.SleepBufferEndTime = now.Add(time.Duration(bufferSeconds) * time.Second).Unix()
		m.state.Phase = types.PhasePreparingSleep
		m.state.ReSleepAttemptTime = 0
		return m.save()
	}

	delayMinutes := 15
	m.state.ReSleepAttemptTime = now.Add(time.Duration(delayMinutes) * time.Minute).Unix()
	logger.InfoCF("sleep", "sleep pressure still low, delaying re-sleep attempt", map[string]interface{}{"pressure": sleepPressure, "retry_in_minutes": delayMinutes})
	return m.save()
}

// ResetAfterWakeup forces WOKEN_UP when currently preparing/sleeping/
// insomniac, and schedules a re-sleep attempt, mirroring
// reset_sleep_state_after_wakeup.
func (m *Manager) ResetAfterWakeup(now time.Time) error {
	switch m.state.Phase {
	case types.PhasePreparingSleep, types.PhaseSleeping, types.PhaseInsomnia:
	default:
		return nil
	}

	logger.InfoCF("sleep", "woken up", nil)
	m.state.Phase = types.PhaseWokenUp
	m.state.SleepBufferEndTime = 0
	m.state.ReSleepAttemptTime = now.Add(time.Duration(m.cfg.ReSleepDelayMinutes) * time.Minute).Unix()
	return m.save()
}

func randomRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min+1)
}
