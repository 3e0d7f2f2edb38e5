package memory

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

// FuseConfig carries the fusion tunables.
type FuseConfig struct {
	SimilarityThreshold float64       // fusion_similarity_threshold, default 0.85
	Window              time.Duration // default 24h
}

// DefaultFuseConfig returns the documented defaults.
func DefaultFuseConfig() FuseConfig {
	return FuseConfig{SimilarityThreshold: 0.85, Window: 24 * time.Hour}
}

// Fuser deduplicates newly-built memory chunks against each other and
// against existing chunks from the same user within a recent window,
// merging near-duplicates rather than storing them twice: the merge
// keeps the stronger rating and accumulates usage.
type Fuser struct {
	cfg FuseConfig
}

// NewFuser constructs a Fuser.
func NewFuser(cfg FuseConfig) *Fuser {
	return &Fuser{cfg: cfg}
}

// Fuse merges fresh against existing (already-stored, same-user chunks
// created within cfg.Window of now) and returns the chunks that should
// actually be upserted: new chunks standing alone, plus updated
// representatives for any merged pair. A merge updates the existing
// chunk in place, so an existing chunk that absorbs a fresh one is
// mutated and returned as the representative.
func (f *Fuser) Fuse(fresh []*types.MemoryChunk, existing []*types.MemoryChunk, now int64) []*types.MemoryChunk {
	if len(fresh) == 0 {
		return nil
	}

	windowSeconds := int64(f.cfg.Window / time.Second)
	var candidates []*types.MemoryChunk
	for _, e := range existing {
		if windowSeconds > 0 && now-e.CreatedAt > windowSeconds {
			continue
		}
		candidates = append(candidates, e)
	}

	out := make([]*types.MemoryChunk, 0, len(fresh))
	for _, m := range fresh {
		target := findFusionTarget(m, candidates, f.cfg.SimilarityThreshold)
		if target == nil {
			target = findFusionTarget(m, out, f.cfg.SimilarityThreshold)
		}
		if target == nil {
			out = append(out, m)
			candidates = append(candidates, m)
			continue
		}
		mergeInto(target, m)
		logger.DebugCF("memory", "fused duplicate memory", map[string]interface{}{
			"kept": target.MemoryID, "dropped": m.MemoryID,
		})
		if !containsMemory(out, target) {
			out = append(out, target)
		}
	}
	return out
}

// findFusionTarget returns the highest-similarity candidate at or above
// threshold sharing m's user, or nil. A candidate with the same
// semantic hash is returned at once. Subjects are not compared.
func findFusionTarget(m *types.MemoryChunk, candidates []*types.MemoryChunk, threshold float64) *types.MemoryChunk {
	var best *types.MemoryChunk
	bestScore := threshold
	for _, c := range candidates {
		if c.UserID != m.UserID || c.MemoryID == m.MemoryID {
			continue
		}
		if m.SemanticHash != "" && c.SemanticHash == m.SemanticHash {
			return c
		}
		score := chunkSimilarity(m, c)
		if score >= bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}

// chunkSimilarity prefers cosine similarity over embeddings when both
// chunks have one, falling back to word-level Jaccard similarity
// otherwise (build-time chunks may not be embedded yet).
func chunkSimilarity(a, b *types.MemoryChunk) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return cosineSimilarity(a.Embedding, b.Embedding)
	}
	return jaccardSimilarity(a.Text, b.Text)
}

// jaccardSimilarity scores two texts by the overlap of their whitespace
// token sets.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

// mergeInto folds src into dst: dst keeps the higher of the two
// confidence/importance ratings, sums access_count, keeps the newer
// created_at, and unions keywords/tags.
func mergeInto(dst, src *types.MemoryChunk) {
	if src.Confidence > dst.Confidence {
		dst.Confidence = src.Confidence
	}
	if src.Importance > dst.Importance {
		dst.Importance = src.Importance
	}
	if src.CreatedAt > dst.CreatedAt {
		dst.CreatedAt = src.CreatedAt
	}
	dst.AccessCount += src.AccessCount
	dst.Keywords = unionStrings(dst.Keywords, src.Keywords)
	dst.Tags = unionStrings(dst.Tags, src.Tags)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func containsMemory(list []*types.MemoryChunk, m *types.MemoryChunk) bool {
	for _, c := range list {
		if c == m {
			return true
		}
	}
	return false
}

// cosineSimilarity is used by fusion when both chunks carry embeddings.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
