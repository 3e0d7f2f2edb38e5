package interest

// MatchResult is what a SmartMatcher returns for one piece of content:
// an overall cosine-similarity score against personality-derived
// interest tags, the tags that matched, and a confidence in [0,1].
type MatchResult struct {
	OverallScore float64
	Confidence   float64
	MatchedTags  []string
}

// SmartMatcher embeds content (or pre-extracted keywords) and scores it
// against a personality's interest tags. A nil SmartMatcher makes the
// scorer fall back to the fixed 0.3 default.
type SmartMatcher interface {
	Match(content string, keywords []string) (*MatchResult, error)
}
