package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mofoxlab/corebot/pkg/cache"
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/retry"
	"github.com/mofoxlab/corebot/pkg/types"
)

// RecencyPreference biases the final ranking stage toward recent or
// historical memories.
type RecencyPreference string

const (
	RecencyAny        RecencyPreference = "any"
	RecencyRecent      RecencyPreference = "recent"
	RecencyHistorical RecencyPreference = "historical"
)

// QueryPlan is the planner's output: how to run the coarse filter and
// what to hand the vector store for the fine filter.
type QueryPlan struct {
	SemanticQuery       string
	MemoryTypes         []string
	SubjectIncludes     []string
	ObjectIncludes      []string
	RequiredKeywords    []string
	OptionalKeywords    []string
	RecencyPreference   RecencyPreference
	Limit               int
	Strict              bool
}

// ensureDefaults fills in the fallback query/limit and normalizes
// recency_preference.
func (p *QueryPlan) ensureDefaults(fallbackQuery string, defaultLimit int) {
	if p.SemanticQuery == "" {
		p.SemanticQuery = fallbackQuery
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	switch p.RecencyPreference {
	case RecencyRecent, RecencyHistorical:
	default:
		p.RecencyPreference = RecencyAny
	}
}

// QueryPlanner optionally asks a small model to turn a free-text query
// into a QueryPlan; with no LLM wired (or on any failure) it falls back
// to the identity plan.
type QueryPlanner struct {
	llm          LLM
	defaultLimit int
}

// NewQueryPlanner constructs a QueryPlanner. llm may be nil.
func NewQueryPlanner(llm LLM, defaultLimit int) *QueryPlanner {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &QueryPlanner{llm: llm, defaultLimit: defaultLimit}
}

func (qp *QueryPlanner) defaultPlan(query string) QueryPlan {
	return QueryPlan{SemanticQuery: query, Limit: qp.defaultLimit, RecencyPreference: RecencyAny}
}

type rawQueryPlan struct {
	SemanticQuery     string   `json:"semantic_query"`
	MemoryTypes       []string `json:"memory_types"`
	SubjectIncludes   []string `json:"subject_includes"`
	ObjectIncludes    []string `json:"object_includes"`
	RequiredKeywords  []string `json:"required_keywords"`
	OptionalKeywords  []string `json:"optional_keywords"`
	RecencyPreference string   `json:"recency_preference"`
	Limit             int      `json:"limit"`
}

// Plan produces a QueryPlan for queryText.
func (qp *QueryPlanner) Plan(ctx context.Context, queryText string) QueryPlan {
	if qp.llm == nil {
		return qp.defaultPlan(queryText)
	}

	prompt := fmt.Sprintf(`Plan a memory retrieval query. Return JSON with keys semantic_query, memory_types, subject_includes, object_includes, required_keywords, optional_keywords, recency_preference (any|recent|historical), limit.

QUERY: %s`, queryText)

	resp, err := qp.llm.Generate(ctx, prompt, "utils")
	if err != nil {
		logger.DebugCF("memory", "query planning model call failed, using default plan", map[string]interface{}{"error": err.Error()})
		return qp.defaultPlan(queryText)
	}

	var raw rawQueryPlan
	if err := json.Unmarshal([]byte(extractJSON(resp)), &raw); err != nil {
		logger.WarnCF("memory", "query planning response unparseable, using default plan", map[string]interface{}{"error": err.Error()})
		return qp.defaultPlan(queryText)
	}

	plan := QueryPlan{
		SemanticQuery:     raw.SemanticQuery,
		MemoryTypes:       raw.MemoryTypes,
		SubjectIncludes:   raw.SubjectIncludes,
		ObjectIncludes:    raw.ObjectIncludes,
		RequiredKeywords:  raw.RequiredKeywords,
		OptionalKeywords:  raw.OptionalKeywords,
		RecencyPreference: RecencyPreference(raw.RecencyPreference),
		Limit:             raw.Limit,
	}
	plan.ensureDefaults(queryText, qp.defaultLimit)
	return plan
}

// RetrieveConfig carries the retrieval-stage tunables.
type RetrieveConfig struct {
	SimilarityThreshold float32
	CoarseFetchFactor   int // how many more candidates the coarse filter keeps than Limit asks for

	// EnableCaching caches vector fine-filter results in the shared
	// two-level cache, keyed by query + candidate set.
	EnableCaching bool

	// Retry backs off transient embedder/vector failures during the
	// fine-filter query.
	Retry retry.Config
}

// DefaultRetrieveConfig returns the documented defaults.
func DefaultRetrieveConfig() RetrieveConfig {
	return RetrieveConfig{SimilarityThreshold: 0.5, CoarseFetchFactor: 4, EnableCaching: true, Retry: retry.DefaultConfig()}
}

// Retriever runs the four-stage pipeline: query planning ->
// metadata coarse filter -> vector fine filter -> rank+update.
type Retriever struct {
	cfg     RetrieveConfig
	planner *QueryPlanner
	index   *MetadataIndex
	vectors *VectorStore

	// queryCache holds vector fine-filter results; nil disables caching.
	queryCache *cache.TwoLevel
}

// NewRetriever constructs a Retriever over the given index/vector
// store. queryCache may be nil.
func NewRetriever(cfg RetrieveConfig, planner *QueryPlanner, index *MetadataIndex, vectors *VectorStore, queryCache *cache.TwoLevel) *Retriever {
	if !cfg.EnableCaching {
		queryCache = nil
	}
	return &Retriever{cfg: cfg, planner: planner, index: index, vectors: vectors, queryCache: queryCache}
}

// vectorQueryCacheKey digests the query and candidate set, so an
// unchanged index state reuses the previous fine-filter result.
func vectorQueryCacheKey(query string, candidateIDs []string, limit int) string {
	h := md5.New()
	io.WriteString(h, query)
	for _, id := range candidateIDs {
		io.WriteString(h, "\x00")
		io.WriteString(h, id)
	}
	fmt.Fprintf(h, "\x00%d", limit)
	return hex.EncodeToString(h.Sum(nil))
}

// Retrieve runs the full pipeline for query, scoped to userID (empty
// means no user scoping), and returns up to limit ranked chunks.
func (r *Retriever) Retrieve(ctx context.Context, query, userID string, limit int, now int64) ([]*types.MemoryChunk, error) {
	plan := r.planner.Plan(ctx, query)
	if limit > 0 {
		plan.Limit = limit
	}

	coarseLimit := plan.Limit * r.cfg.CoarseFetchFactor
	if coarseLimit <= 0 {
		coarseLimit = plan.Limit
	}

	params := CoarseFilterParams{
		UserID:      userID,
		MemoryTypes: plan.MemoryTypes,
		Subjects:    append(append([]string{}, plan.SubjectIncludes...), plan.ObjectIncludes...),
		Limit:       coarseLimit,
		Strict:      plan.Strict,
	}

	var candidateIDs []string
	if plan.Strict {
		candidateIDs = r.index.SearchStrict(params)
	} else {
		candidateIDs = r.index.SearchFlexible(params)
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	var scored []ScoredChunk
	var cached bool
	key := ""
	if r.queryCache != nil {
		key = vectorQueryCacheKey(plan.SemanticQuery, candidateIDs, coarseLimit)
		if v, ok := r.queryCache.Get(key); ok {
			scored = v.([]ScoredChunk)
			cached = true
		}
	}
	if !cached {
		err := retry.Do(ctx, r.cfg.Retry, "memory", func() error {
			var queryErr error
			scored, queryErr = r.vectors.QueryCandidates(ctx, plan.SemanticQuery, candidateIDs, coarseLimit, r.cfg.SimilarityThreshold)
			return queryErr
		})
		if err != nil {
			return nil, fmt.Errorf("memory: vector fine filter: %w", err)
		}
		if r.queryCache != nil && len(scored) > 0 {
			r.queryCache.Set(key, scored, int64(len(scored))*512)
		}
	}
	if len(scored) == 0 {
		return nil, nil
	}

	ranked := rankAndUpdate(scored, plan, now)

	if len(ranked) > plan.Limit {
		ranked = ranked[:plan.Limit]
	}

	for _, m := range ranked {
		m.AccessCount++
		m.LastAccessed = now
		if err := r.index.UpdateAccess(m.MemoryID, now); err != nil {
			logger.WarnCF("memory", "failed to update access metadata", map[string]interface{}{"memory_id": m.MemoryID, "error": err.Error()})
		}
		if err := r.vectors.Upsert(ctx, m); err != nil {
			logger.WarnCF("memory", "failed to persist access update", map[string]interface{}{"memory_id": m.MemoryID, "error": err.Error()})
		}
	}

	return ranked, nil
}

// rankAndUpdate combines vector similarity (70%), keyword overlap with
// the plan's required/optional keywords (15%), and an
// importance/confidence bump into a final score, falling back to
// recency when scores tie. It applies the plan's recency preference as
// a secondary bias.
func rankAndUpdate(scored []ScoredChunk, plan QueryPlan, now int64) []*types.MemoryChunk {
	type ranked struct {
		chunk *types.MemoryChunk
		score float64
	}
	out := make([]ranked, 0, len(scored))

	for _, s := range scored {
		keywordScore := keywordOverlapScore(s.Chunk, plan)
		qualityBoost := (float64(s.Chunk.Importance) + float64(s.Chunk.Confidence)) / 8.0 // normalized to [0.25,1]

		final := float64(s.Similarity)*0.70 + keywordScore*0.15 + qualityBoost*0.15

		switch plan.RecencyPreference {
		case RecencyRecent:
			ageHours := float64(now-s.Chunk.CreatedAt) / 3600.0
			if ageHours < 24 {
				final += 0.05
			}
		case RecencyHistorical:
			ageHours := float64(now-s.Chunk.CreatedAt) / 3600.0
			if ageHours > 24*30 {
				final += 0.05
			}
		}

		out = append(out, ranked{chunk: s.Chunk, score: final})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunk.CreatedAt > out[j].chunk.CreatedAt
	})

	result := make([]*types.MemoryChunk, len(out))
	for i, r := range out {
		r.chunk.RelevanceScore = r.score
		result[i] = r.chunk
	}
	return result
}

func keywordOverlapScore(m *types.MemoryChunk, plan QueryPlan) float64 {
	if len(plan.RequiredKeywords) == 0 && len(plan.OptionalKeywords) == 0 {
		return 0
	}
	have := make(map[string]bool, len(m.Keywords))
	for _, k := range m.Keywords {
		have[strings.ToLower(k)] = true
	}

	for _, k := range plan.RequiredKeywords {
		if !have[strings.ToLower(k)] {
			return 0
		}
	}
	if len(plan.OptionalKeywords) == 0 {
		return 1
	}
	hits := 0
	for _, k := range plan.OptionalKeywords {
		if have[strings.ToLower(k)] {
			hits++
		}
	}
	return float64(hits) / float64(len(plan.OptionalKeywords))
}
