package interest

import (
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

// ReplyDecision bundles the should_reply outcome with the score and the
// effective threshold that produced it, so callers never need a second
// lookup.
type ReplyDecision struct {
	ShouldReply        bool
	Score              float64
	EffectiveThreshold float64
}

// ShouldReply implements the reply decision: lower the threshold
// when mentioned, then subtract the accumulated no-reply fairness boost
// (capped at 0.8).
func (s *Scorer) ShouldReply(score types.InterestScore) ReplyDecision {
	base := s.cfg.ReplyActionInterestThreshold
	if score.MentionedScore >= s.cfg.MentionBotAdjustmentThreshold {
		base = s.cfg.MentionThreshold
	}

	boost := float64(s.noReplyCount) * s.cfg.BoostPerNoReply()
	if boost > 0.8 {
		boost = 0.8
	}
	effective := base - boost

	decision := score.TotalScore >= effective
	return ReplyDecision{ShouldReply: decision, Score: score.TotalScore, EffectiveThreshold: effective}
}

// RecordReplyAction updates the no-reply fairness counter: decremented
// on reply (floored at 0), incremented on silence (capped at
// MaxNoReplyCount).
func (s *Scorer) RecordReplyAction(didReply bool) {
	before := s.noReplyCount
	if didReply {
		s.noReplyCount -= s.cfg.ReplyCooldownReduction
		if s.noReplyCount < 0 {
			s.noReplyCount = 0
		}
	} else {
		s.noReplyCount++
	}
	if s.noReplyCount > s.cfg.MaxNoReplyCount {
		s.noReplyCount = s.cfg.MaxNoReplyCount
	}

	logger.DebugCF("interest", "recorded reply action", map[string]interface{}{
		"did_reply": didReply, "no_reply_count_before": before, "no_reply_count_after": s.noReplyCount,
	})
}

// NoReplyCount exposes the current fairness counter, mainly for tests
// and status reporting.
func (s *Scorer) NoReplyCount() int {
	return s.noReplyCount
}
