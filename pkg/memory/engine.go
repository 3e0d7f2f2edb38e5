package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/mofoxlab/corebot/pkg/cache"
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/metrics"
	"github.com/mofoxlab/corebot/pkg/retry"
	"github.com/mofoxlab/corebot/pkg/types"
)

// EngineConfig bundles the per-stage configs the Engine wires together.
type EngineConfig struct {
	Build    BuildConfig
	Fuse     FuseConfig
	Retrieve RetrieveConfig
	Forget   ForgetConfig

	// Retry is the backoff policy for the embedder-backed vector store
	// writes, which can fail transiently when the embedding service is
	// busy.
	Retry retry.Config
}

// DefaultEngineConfig returns the documented defaults for every stage.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Build:    DefaultBuildConfig(),
		Fuse:     DefaultFuseConfig(),
		Retrieve: DefaultRetrieveConfig(),
		Forget:   DefaultForgetConfig(),
		Retry:    retry.DefaultConfig(),
	}
}

// Engine is the top-level Memory Engine: it wires build -> fuse
// -> store -> retrieve -> forget behind the external contract,
// process_conversation / retrieve_relevant.
type Engine struct {
	cfg EngineConfig

	builder   *Builder
	fuser     *Fuser
	retriever *Retriever
	forgetter *Forgetter

	vectors *VectorStore
	index   *MetadataIndex

	stats   *metrics.Memory
	tracker *metrics.Tracker
}

// NewEngine wires a full Memory Engine rooted at workspacePath.
// extractionLLM and planningLLM may point at the same LLM or be nil;
// embedder must not be nil. stats may be nil.
func NewEngine(workspacePath string, cfg EngineConfig, embedder Embedder, extractionLLM, planningLLM LLM, stats *metrics.Memory) (*Engine, error) {
	vectors, err := NewVectorStore(workspacePath, embedder)
	if err != nil {
		return nil, fmt.Errorf("memory: init engine vector store: %w", err)
	}
	index, err := NewMetadataIndex(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("memory: init engine metadata index: %w", err)
	}

	planner := NewQueryPlanner(planningLLM, 10)
	if stats == nil {
		stats = metrics.NewMemory(nil)
	}
	var queryCache *cache.TwoLevel
	if cfg.Retrieve.EnableCaching {
		queryCache = cache.NewTwoLevel(cache.DefaultConfig(), nil)
	}

	return &Engine{
		cfg:       cfg,
		builder:   NewBuilder(cfg.Build, extractionLLM),
		fuser:     NewFuser(cfg.Fuse),
		retriever: NewRetriever(cfg.Retrieve, planner, index, vectors, queryCache),
		forgetter: NewForgetter(cfg.Forget, vectors, index),
		vectors:   vectors,
		index:     index,
		stats:     stats,
		tracker:   metrics.NewTracker(workspacePath),
	}, nil
}

// StartAutoCleanup launches the periodic forgetting sweep.
func (e *Engine) StartAutoCleanup(ctx context.Context, now func() int64) {
	e.forgetter.Start(ctx, now)
}

// StopAutoCleanup halts the periodic forgetting sweep.
func (e *Engine) StopAutoCleanup() {
	e.forgetter.Stop()
}

// ProcessConversation is the process_conversation(text, context,
// user_id, timestamp?) external contract: build memories from text,
// fuse them against the user's recent existing memories, then persist
// the survivors to both the vector store and the metadata index.
func (e *Engine) ProcessConversation(ctx context.Context, text string, bc BuildContext, now int64) BuildResult {
	start := time.Now()

	buildStart := time.Now()
	result := e.builder.Build(ctx, text, bc, now)
	e.stats.StageDuration.WithLabelValues("build").Observe(time.Since(buildStart).Seconds())
	if !result.Success || len(result.CreatedMemories) == 0 {
		result.ProcessingTime = time.Since(start)
		return result
	}

	fuseStart := time.Now()
	existing := e.recentForUser(ctx, bc.UserID, now)
	toStore := e.fuser.Fuse(result.CreatedMemories, existing, now)
	e.stats.StageDuration.WithLabelValues("fuse").Observe(time.Since(fuseStart).Seconds())

	storeStart := time.Now()
	stored := make([]*types.MemoryChunk, 0, len(toStore))
	for _, m := range toStore {
		if err := e.storeChunk(ctx, m); err != nil {
			logger.ErrorCF("memory", "failed to store memory chunk", map[string]interface{}{"memory_id": m.MemoryID, "error": err.Error()})
			continue
		}
		stored = append(stored, m)
	}
	e.stats.StageDuration.WithLabelValues("store").Observe(time.Since(storeStart).Seconds())
	e.stats.ChunksStored.Add(float64(len(stored)))
	e.stats.ChunksDropped.Add(float64(len(result.CreatedMemories) - len(stored)))
	e.tracker.Record(metrics.UsageEvent{
		Component:   "memory",
		RequestType: "process_conversation",
		DurationMS:  int(time.Since(start).Milliseconds()),
	})

	return BuildResult{
		Success:         true,
		CreatedMemories: stored,
		MemoryCount:     len(stored),
		ProcessingTime:  time.Since(start),
		Status:          "ok",
	}
}

// storeChunk writes one chunk to both stores, all-or-nothing: a failed
// index write rolls the vector write back so the two stores never
// disagree about which ids exist. The vector upsert goes through the
// embedder, so it retries on the transient error class.
func (e *Engine) storeChunk(ctx context.Context, m *types.MemoryChunk) error {
	err := retry.Do(ctx, e.cfg.Retry, "memory", func() error {
		return e.vectors.Upsert(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("memory: store chunk %s: %w", m.MemoryID, err)
	}
	if err := e.index.AddOrUpdate(m); err != nil {
		if delErr := e.vectors.Delete(ctx, m.MemoryID); delErr != nil {
			logger.ErrorCF("memory", "rollback of vector write failed", map[string]interface{}{"memory_id": m.MemoryID, "error": delErr.Error()})
		}
		return fmt.Errorf("memory: index chunk %s: %w", m.MemoryID, err)
	}
	return nil
}

// recentForUser fetches this user's chunks created within the fuse
// window, for dedup comparison. The index's inverted-by-type map gives
// no direct "by user" lookup, so this scans the snapshot; acceptable
// since the fuse window is small (default 24h) and per-user memory
// volumes are modest.
func (e *Engine) recentForUser(ctx context.Context, userID string, now int64) []*types.MemoryChunk {
	windowSeconds := int64(e.cfg.Fuse.Window / time.Second)
	var out []*types.MemoryChunk
	for _, entry := range e.index.Snapshot() {
		if entry.UserID != userID {
			continue
		}
		if windowSeconds > 0 && now-entry.CreatedAt > windowSeconds {
			continue
		}
		if chunk, ok := e.vectors.Get(ctx, entry.MemoryID); ok {
			out = append(out, chunk)
		}
	}
	return out
}

// RetrieveRelevant is the retrieve_relevant(query, user_id?, limit)
// external contract.
func (e *Engine) RetrieveRelevant(ctx context.Context, query, userID string, limit int, now int64) ([]*types.MemoryChunk, error) {
	start := time.Now()
	defer func() {
		e.stats.StageDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
		e.tracker.Record(metrics.UsageEvent{
			Component:   "memory",
			RequestType: "retrieve",
			DurationMS:  int(time.Since(start).Milliseconds()),
		})
	}()
	e.stats.Retrievals.Inc()
	return e.retriever.Retrieve(ctx, query, userID, limit, now)
}

// Stats reports engine-wide counters for the status surface.
func (e *Engine) Stats() map[string]interface{} {
	stats := e.index.Stats()
	stats["vector_count"] = e.vectors.Count()
	return stats
}
