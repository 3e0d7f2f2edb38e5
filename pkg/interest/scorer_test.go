package interest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/types"
)

type fakeMatcher struct {
	result *MatchResult
	err    error
}

func (f *fakeMatcher) Match(content string, keywords []string) (*MatchResult, error) {
	return f.result, f.err
}

func TestInterestMatchFallsBackWithoutMatcher(t *testing.T) {
	s := NewScorer(DefaultConfig(), nil)
	score := s.interestMatchScore("hello", nil)
	require.Equal(t, 0.3, score)
}

func TestInterestMatchUsesSmartMatcher(t *testing.T) {
	cfg := DefaultConfig()
	matcher := &fakeMatcher{result: &MatchResult{OverallScore: 0.8, Confidence: 0.9, MatchedTags: []string{"a", "b"}}}
	s := NewScorer(cfg, matcher)

	got := s.interestMatchScore("hello", nil)
	bonus := 2 * cfg.MatchCountBonus
	want := 0.8*1.15*0.9 + bonus
	require.InDelta(t, want, got, 1e-9)
}

func TestInterestMatchBonusCapped(t *testing.T) {
	cfg := DefaultConfig()
	matcher := &fakeMatcher{result: &MatchResult{
		OverallScore: 0.5, Confidence: 0.5,
		MatchedTags: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
	}}
	s := NewScorer(cfg, matcher)

	got := s.interestMatchScore("hello", nil)
	want := 0.5*1.15*0.5 + cfg.MaxMatchBonus
	require.InDelta(t, want, got, 1e-9)
}

func TestTotalScoreWeightedSum(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg, nil)
	s.SetRelationship("u1", 0.6)

	msg := types.NewMessage("qq", "u1", "hello", 1)
	msg.IsMentioned = true

	score := s.Score(msg, "bot", nil)
	want := 0.3*cfg.WeightInterestMatch + 0.6*cfg.WeightRelationship + cfg.MentionBotInterestScore*cfg.WeightMentioned
	require.InDelta(t, want, score.TotalScore, 1e-9)
}

func TestMentionedScorePrivateChatCountsAsMentioned(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg, nil)
	msg := types.NewMessage("qq", "u1", "hello", 1) // no GroupID => private
	got := s.mentionedScore(msg, "bot", nil)
	require.Equal(t, cfg.MentionBotInterestScore, got)
}

func TestMentionedScoreGroupWithoutMentionIsZero(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg, nil)
	msg := types.NewMessage("qq", "u1", "hello", 1)
	msg.GroupID = "g1"
	got := s.mentionedScore(msg, "bot", nil)
	require.Equal(t, 0.0, got)
}

func TestShouldReplyLowersThresholdWhenMentioned(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg, nil)

	score := types.InterestScore{TotalScore: 0.25, MentionedScore: 1.0}
	decision := s.ShouldReply(score)
	require.True(t, decision.ShouldReply)
	require.Equal(t, cfg.MentionThreshold, decision.EffectiveThreshold)
}

func TestShouldReplyFairnessBoostIncreasesOverTime(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg, nil)

	score := types.InterestScore{TotalScore: 0.45, MentionedScore: 0}
	first := s.ShouldReply(score)
	require.False(t, first.ShouldReply)

	for i := 0; i < cfg.MaxNoReplyCount; i++ {
		s.RecordReplyAction(false)
	}

	boosted := s.ShouldReply(score)
	require.True(t, boosted.ShouldReply)
}

func TestRecordReplyActionClampsBounds(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg, nil)

	for i := 0; i < cfg.MaxNoReplyCount+5; i++ {
		s.RecordReplyAction(false)
	}
	require.Equal(t, cfg.MaxNoReplyCount, s.NoReplyCount())

	s.RecordReplyAction(true)
	require.Equal(t, cfg.MaxNoReplyCount-cfg.ReplyCooldownReduction, s.NoReplyCount())

	for i := 0; i < 100; i++ {
		s.RecordReplyAction(true)
	}
	require.Equal(t, 0, s.NoReplyCount())
}

func TestConfigValidateRejectsZeroMaxNoReplyCount(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxNoReplyCount = 0
	require.Error(t, cfg.Validate())
}
