package sleep

import (
	"context"
	"time"

	"github.com/mofoxlab/corebot/pkg/kv"
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

const wakeupStateKey = "global_wakeup_manager_state"

// MoodSink is the narrow collaborator notified when an angry state
// starts or ends. Optional: a nil sink simply skips notification.
type MoodSink interface {
	SetAngry(chatID string)
	ClearAngry(chatID string)
}

// WakeUpManager accumulates a wakeup value while the paired Manager is
// SLEEPING and triggers an angry "woken up" state once the value
// crosses WakeupThreshold.
type WakeUpManager struct {
	store   kv.Store
	cfg     Config
	manager *Manager
	mood    MoodSink

	state *types.WakeUpState

	stop chan struct{}
}

// NewWakeUpManager loads (or initializes) wakeup state from store.
func NewWakeUpManager(store kv.Store, cfg Config, manager *Manager, mood MoodSink) (*WakeUpManager, error) {
	w := &WakeUpManager{store: store, cfg: cfg, manager: manager, mood: mood}
	var state types.WakeUpState
	ok, err := store.Get(wakeupStateKey, &state)
	if err != nil {
		return nil, err
	}
	if ok {
		w.state = &state
	} else {
		w.state = types.NewWakeUpState()
	}
	return w, nil
}

// SleepPressure implements PressureSource.
func (w *WakeUpManager) SleepPressure() float64 { return w.state.SleepPressure }

// SetSleepPressure updates the pressure reading ([0,100]); the caller
// (mood/activity subsystem) is the source of truth for its value, this
// package only stores and persists it.
func (w *WakeUpManager) SetSleepPressure(p float64) error {
	w.state.SleepPressure = p
	return w.save()
}

func (w *WakeUpManager) save() error { return w.store.Set(wakeupStateKey, w.state) }

// AddWakeupValue records one inbound message's contribution to the
// wakeup value: private chats always increment, group chats only when
// mentioned. Returns true if the threshold was crossed and the angry
// state was triggered. A silent no-op when not currently SLEEPING.
func (w *WakeUpManager) AddWakeupValue(now time.Time, isPrivateChat, isMentioned bool, chatID string) (bool, error) {
	if !w.cfg.Enable {
		return false, nil
	}
	if !w.manager.IsSleeping() {
		return false, nil
	}

	switch {
	case isPrivateChat:
		w.state.WakeupValue += w.cfg.PrivateMessageIncrement
	case isMentioned:
		w.state.WakeupValue += w.cfg.GroupMentionIncrement
	default:
		return false, nil
	}

	if w.state.WakeupValue >= w.cfg.WakeupThreshold {
		if chatID == "" {
			logger.ErrorCF("sleep", "wakeup threshold reached but no chat id provided", nil)
			return false, nil
		}
		return true, w.triggerWakeup(now, chatID)
	}

	return false, w.save()
}

func (w *WakeUpManager) triggerWakeup(now time.Time, chatID string) error {
	w.state.IsAngry = true
	w.state.AngryStartTime = now.Unix()
	w.state.WakeupValue = 0
	w.state.AngryChatID = chatID

	if err := w.save(); err != nil {
		return err
	}

	if w.mood != nil {
		w.mood.SetAngry(chatID)
	}

	logger.InfoCF("sleep", "wakeup threshold reached, entering angry state", map[string]interface{}{"chat_id": chatID, "threshold": w.cfg.WakeupThreshold})

	return w.manager.ResetAfterWakeup(now)
}

// IsInAngryState lazily clears an expired angry state and reports the
// current (possibly just-cleared) value.
func (w *WakeUpManager) IsInAngryState(now time.Time) bool {
	if !w.state.IsAngry {
		return false
	}
	if now.Unix()-w.state.AngryStartTime >= int64(w.cfg.AngryDuration/time.Second) {
		w.clearAngry()
	}
	return w.state.IsAngry
}

func (w *WakeUpManager) clearAngry() {
	w.state.IsAngry = false
	if w.mood != nil && w.state.AngryChatID != "" {
		w.mood.ClearAngry(w.state.AngryChatID)
	}
	w.state.AngryChatID = ""
	if err := w.save(); err != nil {
		logger.WarnCF("sleep", "failed to persist cleared angry state", map[string]interface{}{"error": err.Error()})
	}
}

// AngryPromptAddition returns the configured angry-state prompt
// addition while angry, or "".
func (w *WakeUpManager) AngryPromptAddition() string {
	if w.state.IsAngry {
		return w.cfg.AngryPrompt
	}
	return ""
}

// StatusInfo reports the manager's current state for diagnostics.
func (w *WakeUpManager) StatusInfo(now time.Time) map[string]interface{} {
	remaining := 0.0
	if w.state.IsAngry {
		elapsed := float64(now.Unix() - w.state.AngryStartTime)
		left := float64(w.cfg.AngryDuration/time.Second) - elapsed
		if left > 0 {
			remaining = left
		}
	}
	return map[string]interface{}{
		"wakeup_value":         w.state.WakeupValue,
		"wakeup_threshold":     w.cfg.WakeupThreshold,
		"is_angry":             w.state.IsAngry,
		"angry_remaining_time": remaining,
	}
}

// StartDecayLoop runs the periodic wakeup-value decay and angry-state
// expiry check until Stop is called or ctx ends.
func (w *WakeUpManager) StartDecayLoop(ctx context.Context, now func() time.Time) {
	if !w.cfg.Enable {
		return
	}
	w.stop = make(chan struct{})
	ticker := time.NewTicker(w.cfg.DecayInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.decayTick(now())
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *WakeUpManager) decayTick(now time.Time) {
	w.IsInAngryState(now)

	if w.state.WakeupValue > 0 {
		old := w.state.WakeupValue
		w.state.WakeupValue -= w.cfg.DecayRate
		if w.state.WakeupValue < 0 {
			w.state.WakeupValue = 0
		}
		if old != w.state.WakeupValue {
			if err := w.save(); err != nil {
				logger.WarnCF("sleep", "failed to persist wakeup decay", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// StopDecayLoop halts the goroutine started by StartDecayLoop.
func (w *WakeUpManager) StopDecayLoop() {
	if w.stop != nil {
		close(w.stop)
	}
}
