// Package antiinjection implements the Anti-Injection Pipeline:
// feature gate -> ban check -> whitelist -> command skip list ->
// reply-only filter -> detector -> decision mode, with violation
// accounting and statistics.
package antiinjection

import (
	"time"

	"github.com/mofoxlab/corebot/pkg/retry"
)

// DecisionMode selects how a detection result is turned into a
// ProcessResult.
type DecisionMode string

const (
	ModeStrict        DecisionMode = "strict"
	ModeLenient       DecisionMode = "lenient"
	ModeAuto          DecisionMode = "auto"
	ModeCounterAttack DecisionMode = "counter_attack"
)

// Config holds every tunable the pipeline and detector need.
type Config struct {
	Enabled bool

	EnabledRules          bool
	EnabledLLM            bool
	LLMDetectionEnabled   bool
	LLMDetectionThreshold float64

	CacheEnabled bool
	CacheTTL     time.Duration

	MaxMessageLength int

	Mode DecisionMode

	ShieldThreshold float64 // lenient mode
	AutoBlockThreshold float64 // auto mode: >= block
	AutoShieldThreshold float64 // auto mode: >= shield
	HighRiskPatternBump int     // 2+ high-risk patterns bump a level

	AutoBanViolationThreshold int64
	AutoBanDuration           int64 // seconds

	Whitelist       map[string]bool // "platform:user_id" -> bypass
	CommandPrefixes []string

	// LLMRetry backs off transient classifier failures before the
	// detector gives up on the LLM layer for this message.
	LLMRetry retry.Config
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:                    true,
		EnabledRules:               true,
		EnabledLLM:                 true,
		LLMDetectionEnabled:        true,
		LLMDetectionThreshold:      0.6,
		CacheEnabled:               true,
		CacheTTL:                   10 * time.Minute,
		MaxMessageLength:           4000,
		Mode:                       ModeAuto,
		ShieldThreshold:            0.5,
		AutoBlockThreshold:         0.85,
		AutoShieldThreshold:        0.5,
		HighRiskPatternBump:        2,
		AutoBanViolationThreshold:  5,
		AutoBanDuration:            3600 * 24,
		Whitelist:                  map[string]bool{},
		CommandPrefixes:            []string{"/help", "/start", "/status"},
		LLMRetry:                   retry.Config{BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxAttempts: 3, MaxElapsed: 10 * time.Second},
	}
}

// whitelistKey builds the (platform, user_id) composite key.
func whitelistKey(platform, userID string) string {
	return platform + ":" + userID
}
