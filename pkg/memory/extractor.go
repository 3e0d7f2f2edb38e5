package memory

import (
	"regexp"
	"strings"

	"github.com/mofoxlab/corebot/pkg/types"
)

// personalInfoPattern is one compiled regex plus the predicate it
// produces.
type personalInfoPattern struct {
	re        *regexp.Regexp
	predicate string
}

// Go's \w is ASCII-only, so word captures use [\p{Han}\w] to match
// CJK text.
var personalInfoPatterns = []personalInfoPattern{
	{regexp.MustCompile(`我叫([\p{Han}\w]+)`), "is_named"},
	{regexp.MustCompile(`我今年(\d+)岁`), "is_age"},
	{regexp.MustCompile(`我的?生日是(\S+)`), "has_birthday"},
	{regexp.MustCompile(`我是([\p{Han}\w]+)`), "is_profession"},
	{regexp.MustCompile(`我住在([\p{Han}\w]+)`), "lives_in"},
	{regexp.MustCompile(`我的电话是(\d+)`), "has_phone"},
	{regexp.MustCompile(`我的邮箱是([\w.+-]+@[\w-]+\.[\w.]+)`), "has_email"},
}

type preferencePattern struct {
	re        *regexp.Regexp
	predicate string
}

var preferencePatterns = []preferencePattern{
	{regexp.MustCompile(`我喜欢(.+)`), "likes"},
	{regexp.MustCompile(`我不喜欢(.+)`), "dislikes"},
	{regexp.MustCompile(`我爱吃(.+)`), "likes_food"},
	{regexp.MustCompile(`我讨厌(.+)`), "hates"},
	{regexp.MustCompile(`我最喜欢的(.+)`), "favorite_is"},
}

var eventKeywords = []string{"明天", "今天", "昨天", "上周", "下周", "约会", "会议", "活动", "旅行", "生日"}

// extractWithRules runs the three rule families (personal info,
// preferences, events) over text and returns raw (unnormalized,
// unvalidated) memory chunks.
func extractWithRules(text, userID, chatID string, now int64) []*types.MemoryChunk {
	var out []*types.MemoryChunk
	out = append(out, extractPersonalInfo(text, userID, chatID, now)...)
	out = append(out, extractPreferences(text, userID, chatID, now)...)
	out = append(out, extractEvents(text, userID, chatID, now)...)
	return out
}

func extractPersonalInfo(text, userID, chatID string, now int64) []*types.MemoryChunk {
	var out []*types.MemoryChunk
	for _, p := range personalInfoPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		obj := m[1]
		chunk := types.NewMemoryChunk(userID, userID, p.predicate, obj, userID+" "+p.predicate+" "+obj, now)
		chunk.ChatID = chatID
		chunk.MemoryType = types.MemoryPersonalFact
		chunk.Importance = types.ImportanceHigh
		chunk.Confidence = types.ConfidenceHigh
		out = append(out, chunk)
	}
	return out
}

func extractPreferences(text, userID, chatID string, now int64) []*types.MemoryChunk {
	var out []*types.MemoryChunk
	for _, p := range preferencePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		obj := strings.TrimSpace(m[1])
		chunk := types.NewMemoryChunk(userID, userID, p.predicate, obj, userID+" "+p.predicate+" "+obj, now)
		chunk.ChatID = chatID
		chunk.MemoryType = types.MemoryPreference
		chunk.Importance = types.ImportanceMedium
		chunk.Confidence = types.ConfidenceMedium
		out = append(out, chunk)
	}
	return out
}

func extractEvents(text, userID, chatID string, now int64) []*types.MemoryChunk {
	hasEventKeyword := false
	for _, kw := range eventKeywords {
		if strings.Contains(text, kw) {
			hasEventKeyword = true
			break
		}
	}
	if !hasEventKeyword {
		return nil
	}
	chunk := types.NewMemoryChunk(userID, userID, "mentioned_event", text, text, now)
	chunk.ChatID = chatID
	chunk.MemoryType = types.MemoryEvent
	chunk.Importance = types.ImportanceMedium
	chunk.Confidence = types.ConfidenceMedium
	return []*types.MemoryChunk{chunk}
}
