package types

// SleepPhase enumerates the SleepManager's state machine states.
type SleepPhase string

const (
	PhaseAwake          SleepPhase = "AWAKE"
	PhasePreparingSleep SleepPhase = "PREPARING_SLEEP"
	PhaseSleeping       SleepPhase = "SLEEPING"
	PhaseInsomnia       SleepPhase = "INSOMNIA"
	PhaseWokenUp        SleepPhase = "WOKEN_UP"
)

// SleepState is the process-wide, persisted state of the SleepManager.
type SleepState struct {
	Phase SleepPhase `json:"phase"`

	SleepBufferEndTime       int64   `json:"sleep_buffer_end_time"`
	ReSleepAttemptTime       int64   `json:"re_sleep_attempt_time"`
	TotalDelayedMinutesToday float64 `json:"total_delayed_minutes_today"`
	LastSleepCheckDate       string  `json:"last_sleep_check_date"`

	// InsomniaCheckTime holds the scheduled "post-sleep insomnia check"
	// instant set on entering SLEEPING; zero when none is pending.
	InsomniaCheckTime int64 `json:"insomnia_check_time"`
}

// NewSleepState returns a state machine starting AWAKE.
func NewSleepState() *SleepState {
	return &SleepState{Phase: PhaseAwake}
}

// WakeUpState is the process-wide, persisted state of the WakeUpManager.
type WakeUpState struct {
	WakeupValue    float64 `json:"wakeup_value"`
	IsAngry        bool    `json:"is_angry"`
	AngryStartTime int64   `json:"angry_start_time"`
	SleepPressure  float64 `json:"sleep_pressure"` // [0,100]

	// AngryChatID records which stream triggered the current angry
	// state; one slot, overwritten on each trigger.
	AngryChatID string `json:"angry_chat_id,omitempty"`
}

// NewWakeUpState returns a zeroed, non-angry wakeup state.
func NewWakeUpState() *WakeUpState {
	return &WakeUpState{}
}
