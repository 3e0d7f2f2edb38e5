package antiinjection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mofoxlab/corebot/pkg/kv"
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/metrics"
	"github.com/mofoxlab/corebot/pkg/types"
)

// ProcessResult is the pipeline's verdict for one inbound message.
type ProcessResult string

const (
	ResultAllowed          ProcessResult = "allowed"
	ResultBlockedBan       ProcessResult = "blocked_ban"
	ResultBlockedInjection ProcessResult = "blocked_injection"
	ResultShielded         ProcessResult = "shielded"
	ResultCounterAttack    ProcessResult = "counter_attack"
)

// CounterAttacker generates a persona-flavored retort that replaces the
// attacker's message. Implemented outside the core by the LLM
// collaborator; failures degrade the pipeline to strict blocking.
type CounterAttacker interface {
	Retort(ctx context.Context, originalMessage string, detection DetectionResult) (string, error)
}

// Pipeline is the full anti-injection flow: feature gate, ban check,
// whitelist, command skip list, reply-only filter, detector, then the
// configured decision mode, with violation accounting and statistics.
type Pipeline struct {
	cfg      Config
	detector *Detector
	bans     *BanTracker
	shield   *Shield
	counter  CounterAttacker
	stats    *metrics.AntiInjection

	now func() int64
}

// NewPipeline wires the pipeline. classifier and counter may be nil
// (the LLM layer and counter-attack mode then degrade gracefully);
// stats may be nil, in which case unregistered collectors are used.
func NewPipeline(cfg Config, store kv.Store, classifier Classifier, counter CounterAttacker, stats *metrics.AntiInjection, now func() int64) *Pipeline {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	if stats == nil {
		stats = metrics.NewAntiInjection(nil)
	}
	return &Pipeline{
		cfg:      cfg,
		detector: NewDetector(cfg, classifier),
		bans:     NewBanTracker(store, cfg),
		shield:   NewShield(cfg.ShieldThreshold),
		counter:  counter,
		stats:    stats,
		now:      now,
	}
}

// Bans exposes the tracker, mainly for status surfaces and tests.
func (p *Pipeline) Bans() *BanTracker { return p.bans }

// ProcessMessage runs the ordered pipeline for msg. It returns the
// verdict, the replacement content when the message was modified
// (shielded or counter-attacked), and a human-readable explanation.
// Pipeline-internal failures fail closed.
func (p *Pipeline) ProcessMessage(ctx context.Context, msg *types.Message) (result ProcessResult, modified string, explanation string) {
	start := time.Now()
	p.stats.Total.Inc()
	defer func() {
		p.stats.ProcessingTime.Observe(time.Since(start).Seconds())
	}()

	if !p.cfg.Enabled {
		return ResultAllowed, "", "反注入系统未启用"
	}

	now := p.now()

	// Ban check runs before anything else so a banned user can't even
	// reach the detector.
	if p.cfg.AutoBanViolationThreshold > 0 {
		if err := p.bans.ResetOnExpiry(msg.Platform, msg.UserID, now); err != nil {
			logger.ErrorCF("antiinjection", "ban expiry check failed", map[string]interface{}{"error": err.Error()})
		}
		banned, err := p.bans.IsBanned(msg.Platform, msg.UserID, now)
		if err != nil {
			p.stats.Errors.Inc()
			p.stats.Blocked.Inc()
			return ResultBlockedInjection, "", fmt.Sprintf("反注入系统异常，消息已阻止: %v", err)
		}
		if banned {
			p.stats.Blocked.Inc()
			return ResultBlockedBan, "", "用户被封禁中"
		}
	}

	if p.cfg.Whitelist[whitelistKey(msg.Platform, msg.UserID)] {
		return ResultAllowed, "", "用户白名单"
	}

	text := strings.TrimSpace(msg.ProcessedPlainText)
	for _, prefix := range p.cfg.CommandPrefixes {
		if prefix != "" && strings.HasPrefix(text, prefix) {
			return ResultAllowed, "", "命令跳过检测 - " + prefix
		}
	}

	// Only the user's own added text is detected; quoted history already
	// passed through the pipeline when it was first sent.
	detectText := ExtractNewContent(text)
	if detectText == PureQuoteMarker {
		return ResultAllowed, PureQuoteMarker, "纯引用消息，跳过检测"
	}

	detection := p.detector.Detect(ctx, detectText)
	if !detection.IsInjection {
		return ResultAllowed, "", "消息检查通过"
	}

	p.stats.Detected.Inc()
	if p.cfg.AutoBanViolationThreshold > 0 {
		reason := fmt.Sprintf("提示词注入攻击 (置信度: %.2f)", detection.Confidence)
		if _, err := p.bans.RecordViolation(msg.Platform, msg.UserID, reason, now); err != nil {
			logger.ErrorCF("antiinjection", "failed to record violation", map[string]interface{}{"error": err.Error()})
		}
	}

	return p.applyMode(ctx, msg, detection)
}

// applyMode turns a positive detection into a verdict per the configured
// decision mode.
func (p *Pipeline) applyMode(ctx context.Context, msg *types.Message, detection DetectionResult) (ProcessResult, string, string) {
	switch p.cfg.Mode {
	case ModeLenient:
		if p.shield.IsShieldNeeded(detection.Confidence, detection.MatchedPatterns) {
			p.stats.Shielded.Inc()
			shielded := p.shield.CreateShieldedMessage(msg.ProcessedPlainText, detection.Confidence)
			summary := p.shield.CreateSafetySummary(detection.Confidence, detection.MatchedPatterns)
			return ResultShielded, shielded, "检测到可疑内容已加盾处理: " + summary
		}
		return ResultAllowed, "", "检测到轻微可疑内容，已允许通过"

	case ModeAuto:
		switch p.autoAction(detection) {
		case "block":
			p.stats.Blocked.Inc()
			return ResultBlockedInjection, "", fmt.Sprintf("自动模式：检测到高威胁内容，消息已拒绝 (置信度: %.2f)", detection.Confidence)
		case "shield":
			p.stats.Shielded.Inc()
			shielded := p.shield.CreateShieldedMessage(msg.ProcessedPlainText, detection.Confidence)
			summary := p.shield.CreateSafetySummary(detection.Confidence, detection.MatchedPatterns)
			return ResultShielded, shielded, "自动模式：检测到中等威胁已加盾处理: " + summary
		default:
			return ResultAllowed, "", "自动模式：检测到轻微可疑内容，已允许通过"
		}

	case ModeCounterAttack:
		p.stats.Blocked.Inc()
		if p.counter != nil {
			retort, err := p.counter.Retort(ctx, msg.ProcessedPlainText, detection)
			if err == nil && strings.TrimSpace(retort) != "" {
				return ResultCounterAttack, retort, fmt.Sprintf("检测到提示词注入攻击，已生成反击回应 (置信度: %.2f)", detection.Confidence)
			}
			logger.WarnCF("antiinjection", "counter-attack generation failed, degrading to strict", map[string]interface{}{"error": fmt.Sprint(err)})
		}
		return ResultBlockedInjection, "", fmt.Sprintf("检测到提示词注入攻击，消息已拒绝 (置信度: %.2f)", detection.Confidence)

	default: // ModeStrict
		p.stats.Blocked.Inc()
		return ResultBlockedInjection, "", fmt.Sprintf("检测到提示词注入攻击，消息已拒绝 (置信度: %.2f)", detection.Confidence)
	}
}

// autoAction grades a detection into block / shield / allow: confidence
// sets the base action, matched high-risk tokens bump it a level, and a
// very confident LLM verdict forces a block.
func (p *Pipeline) autoAction(detection DetectionResult) string {
	var action string
	switch {
	case detection.Confidence >= p.cfg.AutoBlockThreshold:
		action = "block"
	case detection.Confidence >= p.cfg.AutoShieldThreshold:
		action = "shield"
	default:
		action = "allow"
	}

	high, medium := gradeRisk(detection.MatchedPatterns)
	switch {
	case high >= p.cfg.HighRiskPatternBump:
		if action == "allow" {
			action = "shield"
		} else if action == "shield" {
			action = "block"
		}
	case high >= 1:
		if action == "allow" && detection.Confidence > 0.3 {
			action = "shield"
		}
	case medium >= 3:
		if action == "allow" && detection.Confidence > 0.2 {
			action = "shield"
		}
	}

	if strings.Contains(detection.Method, "llm") && detection.Confidence > 0.9 {
		action = "block"
	}

	logger.DebugCF("antiinjection", "auto mode decision", map[string]interface{}{
		"confidence": detection.Confidence, "high_risk": high, "medium_risk": medium, "action": action,
	})
	return action
}
