package interest

import (
	"strings"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

// Scorer computes InterestScores for inbound messages and tracks the
// per-stream no-reply fairness counter. One Scorer lives per stream.
type Scorer struct {
	cfg     Config
	matcher SmartMatcher

	relationships map[string]float64
	tracker       *RelationshipTracker
	noReplyCount  int
}

// NewScorer builds a Scorer. matcher may be nil, in which case the
// interest-match score always falls back to the fixed default.
func NewScorer(cfg Config, matcher SmartMatcher) *Scorer {
	return &Scorer{cfg: cfg, matcher: matcher, relationships: make(map[string]float64)}
}

// SetRelationship seeds the in-memory relationship cache for user, used
// when no background relationship tracker has reported a score yet.
func (s *Scorer) SetRelationship(userID string, score float64) {
	s.relationships[userID] = score
}

// AttachRelationships wires the persisted relationship tracker;
// uncached users then read their affinity from it instead of the
// configured base score.
func (s *Scorer) AttachRelationships(t *RelationshipTracker) {
	s.tracker = t
}

// Score computes the InterestScore for one message.
func (s *Scorer) Score(msg *types.Message, botNickname string, botAliases []string) types.InterestScore {
	interestMatch := s.interestMatchScore(msg.ProcessedPlainText, msg.KeyWords)
	relationship := s.relationshipScore(msg.Platform, msg.UserID)
	mentioned := s.mentionedScore(msg, botNickname, botAliases)

	total := interestMatch*s.cfg.WeightInterestMatch +
		relationship*s.cfg.WeightRelationship +
		mentioned*s.cfg.WeightMentioned

	logger.DebugCF("interest", "scored message", map[string]interface{}{
		"message_id": msg.MessageID, "total": total,
		"interest_match": interestMatch, "relationship": relationship, "mentioned": mentioned,
	})

	return types.InterestScore{
		MessageID:          msg.MessageID,
		BotNickname:        botNickname,
		InterestMatchScore: interestMatch,
		RelationshipScore:  relationship,
		MentionedScore:     mentioned,
		TotalScore:         total,
	}
}

// interestMatchScore implements the smart-match-or-0.3-fallback rule,
// with the overall*1.15*confidence + bonus final blend.
func (s *Scorer) interestMatchScore(content string, keywords []string) float64 {
	if content == "" {
		return 0
	}
	if s.matcher == nil {
		return 0.3
	}

	result, err := s.matcher.Match(content, keywords)
	if err != nil || result == nil {
		logger.WarnCF("interest", "smart match failed, scoring interest match as 0", map[string]interface{}{"error": err})
		return 0
	}

	bonus := float64(len(result.MatchedTags)) * s.cfg.MatchCountBonus
	if bonus > s.cfg.MaxMatchBonus {
		bonus = s.cfg.MaxMatchBonus
	}
	return result.OverallScore*1.15*result.Confidence + bonus
}

func (s *Scorer) relationshipScore(platform, userID string) float64 {
	if v, ok := s.relationships[userID]; ok {
		if v > 1.0 {
			return 1.0
		}
		return v
	}
	if s.tracker != nil {
		return s.tracker.Score(platform, userID)
	}
	return s.cfg.BaseRelationshipScore
}

// mentionedScore treats an explicit mention flag, an alias occurring in
// the text, or a private (non-group) context all as "mentioned".
func (s *Scorer) mentionedScore(msg *types.Message, botNickname string, botAliases []string) float64 {
	if msg.ProcessedPlainText == "" {
		return 0
	}

	mentioned := msg.IsMentioned
	if !mentioned {
		names := append([]string{botNickname}, botAliases...)
		for _, alias := range names {
			if alias != "" && strings.Contains(msg.ProcessedPlainText, alias) {
				mentioned = true
				break
			}
		}
	}

	isPrivate := msg.GroupID == ""
	if mentioned || isPrivate {
		return s.cfg.MentionBotInterestScore
	}
	return 0
}

// UpdateRelationship bumps a user's cached relationship score by delta,
// clamped to [0,1].
func (s *Scorer) UpdateRelationship(userID string, delta float64) float64 {
	old, ok := s.relationships[userID]
	if !ok {
		old = s.cfg.BaseRelationshipScore
	}
	next := old + delta
	if next < 0 {
		next = 0
	}
	if next > 1 {
		next = 1
	}
	s.relationships[userID] = next
	return next
}
