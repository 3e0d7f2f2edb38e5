package antiinjection

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/retry"
)

// DetectionResult is what the rule layer, LLM layer, or their merge
// produces for one message.
type DetectionResult struct {
	IsInjection     bool
	Confidence      float64
	MatchedPatterns []string
	Method          string
	Reason          string
	CachedAt        time.Time
}

// RiskLevel is the LLM layer's risk label.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// LLMResult is what a Classifier returns for one message.
type LLMResult struct {
	Risk       RiskLevel
	Confidence float64
	Reasoning  string
}

// Classifier is the narrow LLM-backed detection contract; no concrete
// LLM client lives in this module (model-provider abstraction is a
// non-goal).
type Classifier interface {
	Classify(ctx context.Context, message string) (LLMResult, error)
}

// Detector runs the rule layer, optionally the LLM layer, merges their
// results, and caches the outcome keyed by an MD5 of the message.
type Detector struct {
	cfg        Config
	classifier Classifier

	mu    sync.Mutex
	cache map[string]DetectionResult
}

// NewDetector builds a Detector using the package's compiled default
// pattern set. classifier may be nil, in which case the LLM layer is
// always skipped.
func NewDetector(cfg Config, classifier Classifier) *Detector {
	return &Detector{cfg: cfg, classifier: classifier, cache: make(map[string]DetectionResult)}
}

// cacheKey is a content-addressed MD5 digest, so identical messages
// never re-run the full pipeline within the TTL window.
func cacheKey(message string) string {
	sum := md5.Sum([]byte(message))
	return hex.EncodeToString(sum[:])
}

// Detect runs the full rule+LLM pipeline for one message.
func (d *Detector) Detect(ctx context.Context, message string) DetectionResult {
	message = strings.TrimSpace(message)
	if message == "" {
		return DetectionResult{Reason: "empty message"}
	}

	key := cacheKey(message)
	if d.cfg.CacheEnabled {
		d.mu.Lock()
		cached, ok := d.cache[key]
		d.mu.Unlock()
		if ok && time.Since(cached.CachedAt) < d.cfg.CacheTTL {
			return cached
		}
	}

	var results []DetectionResult
	var ruleHit bool

	if d.cfg.EnabledRules {
		r := d.detectByRules(message)
		results = append(results, r)
		ruleHit = r.IsInjection
	}

	if d.cfg.EnabledLLM && d.cfg.LLMDetectionEnabled && !ruleHit && d.classifier != nil {
		results = append(results, d.detectByLLM(ctx, message))
	}

	final := mergeResults(results, d.cfg.LLMDetectionThreshold)
	final.CachedAt = time.Now()

	if d.cfg.CacheEnabled {
		d.mu.Lock()
		d.cache[key] = final
		d.mu.Unlock()
	}
	return final
}

// detectByRules implements the length-cap + pattern-match rule layer.
func (d *Detector) detectByRules(message string) DetectionResult {
	if len([]rune(message)) > d.cfg.MaxMessageLength {
		logger.WarnCF("antiinjection", "message too long", map[string]interface{}{"length": len([]rune(message))})
		return DetectionResult{
			IsInjection:     true,
			Confidence:      1.0,
			MatchedPatterns: []string{"MESSAGE_TOO_LONG"},
			Method:          "rules",
			Reason:          "message length exceeds limit",
		}
	}

	var matched []string
	for _, re := range CompiledPatterns {
		if re.MatchString(message) {
			matched = append(matched, re.String())
		}
	}

	if len(matched) == 0 {
		return DetectionResult{Method: "rules", Reason: "no dangerous pattern matched"}
	}

	confidence := float64(len(matched)) * 0.3
	if confidence > 1.0 {
		confidence = 1.0
	}
	return DetectionResult{
		IsInjection:     true,
		Confidence:      confidence,
		MatchedPatterns: matched,
		Method:          "rules",
		Reason:          "matched dangerous patterns",
	}
}

func (d *Detector) detectByLLM(ctx context.Context, message string) DetectionResult {
	var result LLMResult
	err := retry.Do(ctx, d.cfg.LLMRetry, "antiinjection", func() error {
		var classifyErr error
		result, classifyErr = d.classifier.Classify(ctx, message)
		return classifyErr
	})
	if err != nil {
		logger.ErrorCF("antiinjection", "llm detection failed", map[string]interface{}{"error": err.Error()})
		return DetectionResult{Method: "llm", Reason: "llm detection error: " + err.Error()}
	}

	confidence := result.Confidence
	if result.Risk == RiskMedium {
		confidence *= 0.8
	}
	isInjection := result.Risk == RiskHigh || result.Risk == RiskMedium

	return DetectionResult{
		IsInjection: isInjection,
		Confidence:  confidence,
		Method:      "llm",
		Reason:      result.Reasoning,
	}
}

// mergeResults combines the rule and LLM layer outputs: is_injection if
// any individual result crosses llmThreshold; final confidence is the
// max of the individual confidences.
func mergeResults(results []DetectionResult, llmThreshold float64) DetectionResult {
	if len(results) == 0 {
		return DetectionResult{Reason: "no detection results"}
	}
	if len(results) == 1 {
		return results[0]
	}

	var isInjection bool
	var maxConfidence float64
	var patterns []string
	var methods, reasons []string

	for _, r := range results {
		if r.IsInjection && r.Confidence >= llmThreshold {
			isInjection = true
		}
		if r.Confidence > maxConfidence {
			maxConfidence = r.Confidence
		}
		patterns = append(patterns, r.MatchedPatterns...)
		methods = append(methods, r.Method)
		reasons = append(reasons, r.Reason)
	}

	return DetectionResult{
		IsInjection:     isInjection,
		Confidence:      maxConfidence,
		MatchedPatterns: patterns,
		Method:          strings.Join(methods, "+"),
		Reason:          strings.Join(reasons, " | "),
	}
}
