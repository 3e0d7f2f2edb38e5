package memory

import (
	"context"
	"time"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

// ForgetConfig carries the retention tunables.
type ForgetConfig struct {
	RetentionHours      float64 // hard expiry regardless of quality
	SoftScoreThreshold  float64 // below this, a stale/low-value chunk is eligible
	MinAccessCount      int64   // chunks accessed at least this often are protected from soft forgetting
	AutoCleanupInterval time.Duration
}

// DefaultForgetConfig returns the documented defaults.
func DefaultForgetConfig() ForgetConfig {
	return ForgetConfig{
		RetentionHours:      24 * 90, // 90 days
		SoftScoreThreshold:  0.3,
		MinAccessCount:      3,
		AutoCleanupInterval: 6 * time.Hour,
	}
}

// Forgetter periodically (or on demand) removes hard-expired and
// soft-scored-low memory chunks from both the vector store and the
// metadata index.
type Forgetter struct {
	cfg     ForgetConfig
	vectors *VectorStore
	index   *MetadataIndex

	stop chan struct{}
}

// NewForgetter constructs a Forgetter.
func NewForgetter(cfg ForgetConfig, vectors *VectorStore, index *MetadataIndex) *Forgetter {
	return &Forgetter{cfg: cfg, vectors: vectors, index: index}
}

// ForgetResult reports what a forgetting pass removed.
type ForgetResult struct {
	HardExpiredIDs []string
	SoftForgottenIDs []string
}

// softScore combines staleness, importance, confidence, and access
// count into a single retention score in roughly [0,1]; lower means
// more forgettable.
func softScore(m *types.MemoryChunk, now int64) float64 {
	ageHours := float64(now-m.CreatedAt) / 3600.0
	staleness := 1.0
	if ageHours > 0 {
		staleness = 1.0 / (1.0 + ageHours/(24*30)) // 0.5 at 30 days, 1/3 at 60 days
	}

	importanceWeight := float64(m.Importance) / float64(types.ImportanceCritical)
	confidenceWeight := float64(m.Confidence) / float64(types.ConfidenceVeryHigh)

	accessBoost := 0.0
	if m.AccessCount > 0 {
		accessBoost = 0.2
	}

	return staleness*0.4 + importanceWeight*0.3 + confidenceWeight*0.2 + accessBoost
}

// Sweep runs one forgetting pass: hard-expire anything older than
// RetentionHours, then soft-forget anything below SoftScoreThreshold
// that hasn't earned MinAccessCount accesses. force, when true, ignores
// MinAccessCount protection (used for an operator-triggered full
// cleanup).
func (f *Forgetter) Sweep(ctx context.Context, now int64, force bool) (ForgetResult, error) {
	var result ForgetResult

	entries := f.index.Snapshot()
	retentionSeconds := int64(f.cfg.RetentionHours * 3600)

	for _, e := range entries {
		ageSeconds := now - e.CreatedAt
		if retentionSeconds > 0 && ageSeconds > retentionSeconds {
			result.HardExpiredIDs = append(result.HardExpiredIDs, e.MemoryID)
			continue
		}

		if !force && e.AccessCount >= f.cfg.MinAccessCount {
			continue
		}

		chunk, ok := f.vectors.Get(ctx, e.MemoryID)
		if !ok {
			continue
		}
		if softScore(chunk, now) < f.cfg.SoftScoreThreshold {
			result.SoftForgottenIDs = append(result.SoftForgottenIDs, e.MemoryID)
		}
	}

	all := append(append([]string{}, result.HardExpiredIDs...), result.SoftForgottenIDs...)
	if len(all) > 0 {
		if err := f.vectors.Delete(ctx, all...); err != nil {
			return result, err
		}
		for _, id := range all {
			if err := f.index.Remove(id); err != nil {
				logger.WarnCF("memory", "failed to remove forgotten memory from index", map[string]interface{}{"memory_id": id, "error": err.Error()})
			}
		}
		logger.InfoCF("memory", "forgetting pass complete", map[string]interface{}{
			"hard_expired": len(result.HardExpiredIDs), "soft_forgotten": len(result.SoftForgottenIDs),
		})
	}

	return result, nil
}

// Start launches the periodic sweep goroutine, ticking every
// AutoCleanupInterval until Stop is called. now supplies the current
// unix timestamp at each tick (the module never reads the wall clock
// directly).
func (f *Forgetter) Start(ctx context.Context, now func() int64) {
	f.stop = make(chan struct{})
	ticker := time.NewTicker(f.cfg.AutoCleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := f.Sweep(ctx, now(), false); err != nil {
					logger.ErrorCF("memory", "periodic forgetting pass failed", map[string]interface{}{"error": err.Error()})
				}
			case <-f.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic sweep goroutine started by Start.
func (f *Forgetter) Stop() {
	if f.stop != nil {
		close(f.stop)
	}
}
