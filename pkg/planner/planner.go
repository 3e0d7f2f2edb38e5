// Package planner implements the three-phase decision flow that turns a
// stream's unread messages into executed actions: Generate produces a
// plan with the available action set, an interest gate short-circuits
// low-value traffic to no_action, an LLM-backed filter selects the
// actions to run, and the executor runs them.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/mofoxlab/corebot/pkg/interest"
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/metrics"
	"github.com/mofoxlab/corebot/pkg/streamctx"
	"github.com/mofoxlab/corebot/pkg/types"
)

// Mode is the planning posture for one cycle.
type Mode string

const (
	ModeFocus     Mode = "focus"
	ModeNormal    Mode = "normal"
	ModeProactive Mode = "proactive"
)

// Plan is one cycle's worth of planning state: the action set the
// filter may choose from, the context snapshot it saw, and the decided
// actions that came out.
type Plan struct {
	Mode             Mode
	AvailableActions map[string]ActionHandler
	ContextMessages  []*types.Message
	UnreadMessages   []*types.Message
	Decided          []DecidedAction
	TargetMessage    *types.Message
	MaxInterest      float64
}

// FilterInput is everything the LLM filter sees for one cycle.
type FilterInput struct {
	AvailableActions   []string
	ActionDescriptions map[string]string
	ContextMessages    []*types.Message
	UnreadCount        int
	ReplyNotAvailable  bool
	// DoNotRepeat lists action types already executed recently that the
	// filter must not pick again this cycle.
	DoNotRepeat []string
}

// Filter selects 0..K actions from the available set. Implemented by an
// LLM collaborator outside the core; a nil filter degrades every cycle
// to a bare reply/no-reply decision from the interest gate.
type Filter interface {
	Filter(ctx context.Context, in FilterInput) ([]DecidedAction, error)
}

// Config carries the planner's thresholds and budget.
type Config struct {
	NonReplyActionInterestThreshold float64
	// CycleTimeout bounds one full plan+execute cycle.
	CycleTimeout time.Duration
	// HistoryLimit is how many context messages the filter sees.
	HistoryLimit int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		NonReplyActionInterestThreshold: 0.35,
		CycleTimeout:                    30 * time.Second,
		HistoryLimit:                    20,
	}
}

// Planner owns the Generate -> Gate -> Filter flow. Execution lives in
// Executor so the caller can hold the stream lock around reply actions.
type Planner struct {
	cfg      Config
	scorer   *interest.Scorer
	filter   Filter
	registry *Registry
	stats    *metrics.Planner

	botNickname string
	botAliases  []string
}

// New wires a Planner. filter may be nil; stats may be nil.
func New(cfg Config, scorer *interest.Scorer, filter Filter, registry *Registry, stats *metrics.Planner, botNickname string, botAliases []string) *Planner {
	if stats == nil {
		stats = metrics.NewPlanner(nil)
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultConfig().CycleTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	return &Planner{
		cfg:         cfg,
		scorer:      scorer,
		filter:      filter,
		registry:    registry,
		stats:       stats,
		botNickname: botNickname,
		botAliases:  botAliases,
	}
}

// Scorer exposes the interest scorer so the caller can record the
// reply/no-reply outcome after execution.
func (p *Planner) Scorer() *interest.Scorer { return p.scorer }

// Plan runs Generate and Gate, then Filter, for one stream. Any filter
// failure downgrades the cycle to no_action. Plan marks no message read;
// moving unread messages to history is left to the caller.
func (p *Planner) Plan(ctx context.Context, stream *streamctx.StreamContext, mode Mode, replyAvailable bool) *Plan {
	start := time.Now()
	defer func() {
		p.stats.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CycleTimeout)
	defer cancel()

	plan := p.generate(stream, mode, replyAvailable)

	// Gate on the maximum interest across unread messages.
	maxScore, target, anyShouldReply := p.scoreUnread(plan.UnreadMessages)
	plan.MaxInterest = maxScore
	plan.TargetMessage = target

	if maxScore < p.cfg.NonReplyActionInterestThreshold {
		plan.Decided = []DecidedAction{noActionDecision(fmt.Sprintf(
			"兴趣度评分 %.3f 未达阈值 %.3f", maxScore, p.cfg.NonReplyActionInterestThreshold))}
		p.stats.Cycles.WithLabelValues("no_action").Inc()
		return plan
	}

	if p.filter == nil {
		// No filter collaborator: fall back to the bare gate decision.
		if anyShouldReply && replyAvailable {
			plan.Decided = []DecidedAction{{ActionType: ActionReply, Reasoning: "interest gate", ActionMessage: target}}
		} else {
			plan.Decided = []DecidedAction{noActionDecision("no filter configured")}
		}
		return plan
	}

	decided, err := p.filter.Filter(ctx, FilterInput{
		AvailableActions:   namesOf(plan.AvailableActions),
		ActionDescriptions: descriptionsOf(plan.AvailableActions),
		ContextMessages:    plan.ContextMessages,
		UnreadCount:        len(plan.UnreadMessages),
		ReplyNotAvailable:  !replyAvailable,
		DoNotRepeat:        recentActionTypes(stream),
	})
	if err != nil {
		logger.ErrorCF("planner", "filter failed, downgrading to no_action", map[string]interface{}{
			"stream_id": stream.ID, "error": err.Error(),
		})
		plan.Decided = []DecidedAction{noActionDecision("filter error: " + err.Error())}
		p.stats.Cycles.WithLabelValues("error").Inc()
		return plan
	}

	// Drop decisions for unknown actions rather than failing the cycle.
	kept := decided[:0]
	for _, d := range decided {
		if d.ActionType == ActionNoAction {
			kept = append(kept, d)
			continue
		}
		if _, ok := plan.AvailableActions[d.ActionType]; !ok {
			logger.WarnCF("planner", "filter decided unavailable action", map[string]interface{}{
				"stream_id": stream.ID, "action_type": d.ActionType,
			})
			continue
		}
		if d.ActionMessage == nil {
			d.ActionMessage = target
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		kept = []DecidedAction{noActionDecision("filter selected no runnable action")}
	}
	plan.Decided = kept
	return plan
}

// generate builds the initial plan: the action set (reply excluded when
// the channel can't carry it) and a copy-on-read context snapshot.
func (p *Planner) generate(stream *streamctx.StreamContext, mode Mode, replyAvailable bool) *Plan {
	exclude := map[string]bool{}
	if !replyAvailable {
		exclude[ActionReply] = true
	}
	return &Plan{
		Mode:             mode,
		AvailableActions: p.registry.Available(exclude),
		ContextMessages:  stream.GetMessages(p.cfg.HistoryLimit, true),
		UnreadMessages:   stream.UnreadMessages(),
	}
}

// scoreUnread computes interest for every unread message, stamping the
// derived fields on each, and returns the maximum score, the message
// that carried it, and whether any message individually crossed the
// reply threshold.
func (p *Planner) scoreUnread(unread []*types.Message) (float64, *types.Message, bool) {
	var maxScore float64
	var target *types.Message
	var anyShouldReply bool

	for _, msg := range unread {
		score := p.scorer.Score(msg, p.botNickname, p.botAliases)
		decision := p.scorer.ShouldReply(score)

		msg.InterestValue = score.TotalScore
		msg.ShouldReply = decision.ShouldReply

		if score.TotalScore > maxScore {
			maxScore = score.TotalScore
			target = msg
		}
		if decision.ShouldReply {
			anyShouldReply = true
		}
	}
	return maxScore, target, anyShouldReply
}

// recentActionTypes lists action types in the stream's decision trail so
// the filter can avoid repeating them.
func recentActionTypes(stream *streamctx.StreamContext) []string {
	history := stream.DecisionHistory()
	seen := make(map[string]bool)
	var out []string
	for i := len(history) - 1; i >= 0 && len(out) < 5; i-- {
		a := history[i].Action
		if a == "" || a == ActionNoAction || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func namesOf(handlers map[string]ActionHandler) []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	return names
}

func descriptionsOf(handlers map[string]ActionHandler) map[string]string {
	out := make(map[string]string, len(handlers))
	for name, h := range handlers {
		out[name] = h.Description()
	}
	return out
}
