package memory

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

// LLM is the narrow external contract the build/retrieve pipelines
// need: generate(prompt, model_selector, params) -> text. No concrete
// client lives in this module (model-provider abstraction is a
// non-goal).
type LLM interface {
	Generate(ctx context.Context, prompt string, modelSelector string) (string, error)
}

// BuildConfig carries the memory.* tunables the build stage needs.
type BuildConfig struct {
	MemoryValueThreshold float64
	MinMemoryLength      int
	MaxMemoryLength      int
	MinBuildInterval      time.Duration
	HistoryLimit          int // messages folded in during conversation enrichment, [30,50]
}

// DefaultBuildConfig returns the documented defaults.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		MemoryValueThreshold: 0.4,
		MinMemoryLength:      5,
		MaxMemoryLength:      500,
		MinBuildInterval:     5 * time.Minute,
		HistoryLimit:         40,
	}
}

// ExtractionStrategy selects how raw text is turned into memories.
type ExtractionStrategy string

const (
	StrategyRuleBased ExtractionStrategy = "rule_based"
	StrategyHybrid     ExtractionStrategy = "hybrid"
	StrategyLLMBased   ExtractionStrategy = "llm_based"
)

// ValueAssessment is the single LLM call's output.
type ValueAssessment struct {
	ValueScore    float64  `json:"value_score"`
	Reasoning     string   `json:"reasoning"`
	KeyFactors    []string `json:"key_factors"`
	DetectedTypes []string `json:"detected_types"`
}

// BuildContext is the per-call context passed to ProcessConversation:
// conversation excerpt, user/chat scope, and an optional history
// fetcher for conversation enrichment.
type BuildContext struct {
	UserID      string
	ChatID      string
	StreamID    string
	MessageType string // "normal", "command", "system"

	// StructuredData, when non-nil, selects the hybrid extraction
	// strategy regardless of text length.
	StructuredData map[string]interface{}

	// History, if set, supplies the last HistoryLimit formatted messages
	// for conversation enrichment when StreamID is non-empty.
	History []string
}

// BuildResult is the process_conversation return shape.
type BuildResult struct {
	Success        bool
	CreatedMemories []*types.MemoryChunk
	MemoryCount    int
	ProcessingTime time.Duration
	Status         string
}

// Builder runs the build pipeline: value assessment -> throttle ->
// conversation enrichment -> extraction strategy selection ->
// normalization -> validation.
type Builder struct {
	cfg BuildConfig
	llm LLM // may be nil: LLM-based extraction then degrades to rule-based

	lastBuildTime map[string]time.Time
}

// NewBuilder constructs a Builder. llm may be nil.
func NewBuilder(cfg BuildConfig, llm LLM) *Builder {
	return &Builder{cfg: cfg, llm: llm, lastBuildTime: make(map[string]time.Time)}
}

// scopeKey prefers stream_id, falls back to chat_id, then user_id.
func scopeKey(bc BuildContext) string {
	if bc.StreamID != "" {
		return bc.StreamID
	}
	if bc.ChatID != "" {
		return bc.ChatID
	}
	return bc.UserID
}

// Build runs the full pipeline for one conversation excerpt and
// timestamp `now` (unix seconds). It never touches storage; the caller
// (Engine.ProcessConversation) fuses and stores the result.
func (b *Builder) Build(ctx context.Context, text string, bc BuildContext, now int64) BuildResult {
	start := time.Now()

	assessment := b.assessValue(ctx, text)
	if assessment.ValueScore < b.cfg.MemoryValueThreshold {
		return BuildResult{Success: true, Status: "below_value_threshold", ProcessingTime: time.Since(start)}
	}

	key := scopeKey(bc)
	if last, ok := b.lastBuildTime[key]; ok && time.Duration(now-last.Unix())*time.Second < b.cfg.MinBuildInterval {
		return BuildResult{Success: true, Status: "throttled", ProcessingTime: time.Since(start)}
	}

	workingText := text
	if bc.StreamID != "" && len(bc.History) > 0 {
		limit := b.cfg.HistoryLimit
		if limit < 30 {
			limit = 30
		}
		if limit > 50 {
			limit = 50
		}
		hist := bc.History
		if len(hist) > limit {
			hist = hist[len(hist)-limit:]
		}
		workingText = strings.Join(hist, "\n")
	}

	strategy := determineStrategy(workingText, bc)

	var memories []*types.MemoryChunk
	var err error
	switch strategy {
	case StrategyRuleBased:
		memories = extractWithRules(workingText, bc.UserID, bc.ChatID, now)
	case StrategyHybrid:
		memories = extractWithRules(workingText, bc.UserID, bc.ChatID, now)
		llmMemories, e := b.extractWithLLM(ctx, workingText, bc, now)
		if e != nil {
			logger.WarnCF("memory", "hybrid llm extraction failed, using rules only", map[string]interface{}{"error": e.Error()})
		} else {
			memories = mergeExtracted(memories, llmMemories)
		}
	default: // StrategyLLMBased
		memories, err = b.extractWithLLM(ctx, workingText, bc, now)
		if err != nil {
			logger.WarnCF("memory", "llm extraction failed, falling back to rules", map[string]interface{}{"error": err.Error()})
			memories = extractWithRules(workingText, bc.UserID, bc.ChatID, now)
		}
	}

	normalized := make([]*types.MemoryChunk, 0, len(memories))
	for _, m := range memories {
		normalizeMemory(m, now)
		if verr := m.Validate(); verr != nil {
			logger.DebugCF("memory", "dropped invalid memory", map[string]interface{}{"error": verr.Error()})
			continue
		}
		normalized = append(normalized, m)
	}

	b.lastBuildTime[key] = time.Unix(now, 0)

	return BuildResult{
		Success:         true,
		CreatedMemories: normalized,
		MemoryCount:     len(normalized),
		ProcessingTime:  time.Since(start),
		Status:          "ok",
	}
}

// assessValue runs the single LLM value-assessment call. On any failure
// (including no LLM wired) it falls back to a neutral 0.5 score.
func (b *Builder) assessValue(ctx context.Context, text string) ValueAssessment {
	if b.llm == nil {
		return ValueAssessment{ValueScore: 0.5, Reasoning: "no value-assessment model configured"}
	}
	prompt := fmt.Sprintf("Assess whether this text contains information worth remembering long-term. Return JSON {value_score, reasoning, key_factors, detected_types}.\n\nTEXT:\n%s", text)
	resp, err := b.llm.Generate(ctx, prompt, "utils")
	if err != nil {
		logger.WarnCF("memory", "value assessment failed", map[string]interface{}{"error": err.Error()})
		return ValueAssessment{ValueScore: 0.5, Reasoning: "assessment call failed"}
	}
	var out ValueAssessment
	if err := json.Unmarshal([]byte(extractJSON(resp)), &out); err != nil {
		logger.WarnCF("memory", "value assessment parse failed", map[string]interface{}{"error": err.Error()})
		return ValueAssessment{ValueScore: 0.5, Reasoning: "assessment response unparseable"}
	}
	return out
}

// determineStrategy implements selection rules.
func determineStrategy(text string, bc BuildContext) ExtractionStrategy {
	if len([]rune(text)) < 50 {
		return StrategyRuleBased
	}
	if bc.MessageType == "command" || bc.MessageType == "system" {
		return StrategyRuleBased
	}
	if len(bc.StructuredData) > 0 {
		return StrategyHybrid
	}
	return StrategyLLMBased
}

type llmMemoryPayload struct {
	Memories []struct {
		Type       string   `json:"type"`
		Subject    string   `json:"subject"`
		Predicate  string   `json:"predicate"`
		Object     string   `json:"object"`
		Keywords   []string `json:"keywords"`
		Importance int      `json:"importance"`
		Confidence int      `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	} `json:"memories"`
}

func (b *Builder) extractWithLLM(ctx context.Context, text string, bc BuildContext, now int64) ([]*types.MemoryChunk, error) {
	if b.llm == nil {
		return nil, fmt.Errorf("memory: no extraction model configured")
	}
	prompt := buildExtractionPrompt(text, bc, now)
	resp, err := b.llm.Generate(ctx, prompt, "default")
	if err != nil {
		return nil, fmt.Errorf("memory: llm extraction call: %w", err)
	}

	var payload llmMemoryPayload
	if err := json.Unmarshal([]byte(extractJSON(resp)), &payload); err != nil {
		return nil, fmt.Errorf("memory: parse llm extraction response: %w", err)
	}

	out := make([]*types.MemoryChunk, 0, len(payload.Memories))
	for _, m := range payload.Memories {
		if m.Subject == "" || m.Predicate == "" {
			continue
		}
		text := strings.TrimSpace(fmt.Sprintf("%s %s %s", m.Subject, m.Predicate, m.Object))
		chunk := types.NewMemoryChunk(bc.UserID, m.Subject, m.Predicate, m.Object, text, now)
		chunk.ChatID = bc.ChatID
		chunk.MemoryType = types.MemoryType(m.Type)
		chunk.Keywords = m.Keywords
		chunk.Importance = clampImportance(m.Importance)
		chunk.Confidence = clampConfidence(m.Confidence)
		chunk.SourceContext = m.Reasoning
		out = append(out, chunk)
	}
	return out, nil
}

func buildExtractionPrompt(text string, bc BuildContext, now int64) string {
	return fmt.Sprintf(`Extract structured long-term memories from this conversation excerpt as subject-predicate-object triples.
Current time: %s
Chat: %s

CONVERSATION:
%s

Return JSON: {"memories": [{"type": "...", "subject": "...", "predicate": "...", "object": "...", "keywords": [...], "importance": 1-4, "confidence": 1-4, "reasoning": "..."}]}
Resolve relative dates ("tomorrow", "next week") against the current time into absolute YYYY-MM-DD dates.`,
		time.Unix(now, 0).Format("2006-01-02 15:04:05"), bc.ChatID, text)
}

// mergeExtracted deduplicates hybrid rule+LLM output by (subject,
// predicate, object) before validation/normalization runs.
func mergeExtracted(rule, llm []*types.MemoryChunk) []*types.MemoryChunk {
	seen := make(map[string]bool, len(rule))
	out := make([]*types.MemoryChunk, 0, len(rule)+len(llm))
	key := func(m *types.MemoryChunk) string {
		return strings.ToLower(m.Subject + "|" + m.Predicate + "|" + m.Object)
	}
	for _, m := range rule {
		seen[key(m)] = true
		out = append(out, m)
	}
	for _, m := range llm {
		k := key(m)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}
	return out
}

func clampImportance(v int) types.ImportanceLevel {
	if v < int(types.ImportanceLow) {
		return types.ImportanceLow
	}
	if v > int(types.ImportanceCritical) {
		return types.ImportanceCritical
	}
	return types.ImportanceLevel(v)
}

func clampConfidence(v int) types.ConfidenceLevel {
	if v < int(types.ConfidenceMedium) {
		// Memories are never created at Low confidence;
		// anything the extractor rated below Medium is bumped up.
		return types.ConfidenceMedium
	}
	if v > int(types.ConfidenceVeryHigh) {
		return types.ConfidenceVeryHigh
	}
	return types.ConfidenceLevel(v)
}

// extractJSON strips markdown code fences some models wrap JSON in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// relativeDatePatterns maps common relative-date phrases to a day
// offset from `now`, used by normalizeMemory to resolve dates the rule
// layer or an LLM left untranslated.
var relativeDatePatterns = map[string]int{
	"明天": 1, "tomorrow": 1,
	"后天": 2,
	"下周": 7, "next week": 7,
	"下个月": 30, "next month": 30,
	"明年": 365, "next year": 365,
}

// dateRe matches the absolute YYYY-MM-DD form relative dates resolve to.
var dateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// normalizeMemory resolves relative dates against now, auto-tags by
// memory_type, and assigns a deterministic semantic hash for fusion and
// idempotent re-inserts.
func normalizeMemory(m *types.MemoryChunk, now int64) {
	nowT := time.Unix(now, 0)
	for phrase, offsetDays := range relativeDatePatterns {
		if strings.Contains(m.Object, phrase) {
			abs := nowT.AddDate(0, 0, offsetDays).Format("2006-01-02")
			m.Object = strings.ReplaceAll(m.Object, phrase, abs)
		}
		if strings.Contains(m.Text, phrase) {
			abs := nowT.AddDate(0, 0, offsetDays).Format("2006-01-02")
			m.Text = strings.ReplaceAll(m.Text, phrase, abs)
		}
	}
	// A resolved absolute date becomes a keyword so date-phrased
	// queries hit the chunk through the inverted index.
	if date := dateRe.FindString(m.Object); date != "" {
		found := false
		for _, k := range m.Keywords {
			if k == date {
				found = true
				break
			}
		}
		if !found {
			m.Keywords = append(m.Keywords, date)
		}
	}

	if m.MemoryType != "" {
		tag := string(m.MemoryType)
		hasTag := false
		for _, t := range m.Tags {
			if t == tag {
				hasTag = true
				break
			}
		}
		if !hasTag {
			m.Tags = append(m.Tags, tag)
		}
	}

	if m.Text == "" {
		m.Text = strings.TrimSpace(m.Subject + " " + m.Predicate + " " + m.Object)
	}
	if m.Importance == 0 {
		m.Importance = types.ImportanceMedium
	}
	if m.Confidence == 0 {
		m.Confidence = types.ConfidenceMedium
	}
	if m.MemoryID == "" {
		m.MemoryID = uuid.NewString()
	}
	m.SemanticHash = semanticHash(m.Text)
}

// semanticHash collapses whitespace and case before hashing so near
// identical renderings of the same fact land on the same hash.
func semanticHash(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := md5.Sum([]byte(normalized))
	return fmt.Sprintf("%x", sum)
}
