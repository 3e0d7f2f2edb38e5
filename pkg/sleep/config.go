// Package sleep implements the Sleep & Wake-Up Manager: a
// SleepManager state machine (AWAKE -> PREPARING_SLEEP -> SLEEPING ->
// {INSOMNIA, WOKEN_UP} -> AWAKE) driven by a theoretical sleep window,
// sleep pressure, and randomized buffers, plus a WakeUpManager that
// accumulates a wakeup value while sleeping and triggers an angry state
// on threshold crossing.
package sleep

import "time"

// Config carries every sleep_system.* tunable.
type Config struct {
	Enable bool

	// Window resolves "is this instant inside the theoretical sleep
	// time" and, when true, the name of the activity, if any.
	Window WindowSource

	EnableFlexibleSleep           bool
	FlexibleSleepPressureThreshold float64
	MaxSleepDelayMinutes          int
	EnablePreSleepNotification    bool

	InsomniaTriggerDelayMinutesMin int
	InsomniaTriggerDelayMinutesMax int
	InsomniaDurationMinutesMin     int
	InsomniaDurationMinutesMax     int

	// DeepSleepThreshold is the pressure ceiling above which insomnia
	// never triggers; below it, pressure relative to
	// FlexibleSleepPressureThreshold selects which chance applies.
	DeepSleepThreshold           float64
	InsomniaChanceLowPressure    float64
	InsomniaChanceNormalPressure float64

	ReSleepDelayMinutes int

	WakeupThreshold          float64
	PrivateMessageIncrement  float64
	GroupMentionIncrement    float64
	DecayRate                float64
	DecayInterval            time.Duration
	AngryDuration            time.Duration
	AngryPrompt              string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Enable:                         true,
		EnableFlexibleSleep:            true,
		FlexibleSleepPressureThreshold: 50,
		MaxSleepDelayMinutes:           60,
		EnablePreSleepNotification:     true,
		InsomniaTriggerDelayMinutesMin: 20,
		InsomniaTriggerDelayMinutesMax: 60,
		InsomniaDurationMinutesMin:     10,
		InsomniaDurationMinutesMax:     30,
		DeepSleepThreshold:             80,
		InsomniaChanceLowPressure:      0.5,
		InsomniaChanceNormalPressure:   0.1,
		ReSleepDelayMinutes:            10,
		WakeupThreshold:                100,
		PrivateMessageIncrement:        20,
		GroupMentionIncrement:          15,
		DecayRate:                      1,
		DecayInterval:                  30 * time.Second,
		AngryDuration:                  10 * time.Minute,
		AngryPrompt:                    "You were just woken up and are irritable about it.",
	}
}
