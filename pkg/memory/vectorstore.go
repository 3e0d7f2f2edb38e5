// Package memory implements the Memory Engine: build, fuse, store,
// retrieve and forget over a vector store with a separate JSON metadata
// index.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/philippgille/chromem-go"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

// unifiedCollection is the single chromem-go collection every memory
// chunk lives in.
const unifiedCollection = "unified_memory_v2"

// Embedder is the narrow external contract: embed(text) -> vector.
// Idempotent for identical inputs. No concrete embedding model lives in
// this module.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore wraps chromem-go with the single "unified_memory_v2"
// collection and its metadata schema.
type VectorStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorStore opens (or creates) a persistent vector DB rooted at
// workspacePath/memory/vectors.
func NewVectorStore(workspacePath string, embedder Embedder) (*VectorStore, error) {
	dbPath := filepath.Join(workspacePath, "memory", "vectors")
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create vector dir: %w", err)
	}

	db, err := chromem.NewPersistentDB(dbPath, false)
	if err != nil {
		return nil, fmt.Errorf("memory: open vector db: %w", err)
	}

	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.GetOrCreateCollection(unifiedCollection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("memory: create unified collection: %w", err)
	}

	logger.InfoCF("memory", "vector store initialized", map[string]interface{}{
		"path": dbPath, "count": collection.Count(),
	})

	return &VectorStore{db: db, collection: collection}, nil
}

// chunkMetadata renders a MemoryChunk into the metadata schema.
// Array fields are JSON-encoded since chromem-go metadata values are
// plain strings.
func chunkMetadata(m *types.MemoryChunk) map[string]string {
	encode := func(v interface{}) string {
		b, _ := json.Marshal(v)
		return string(b)
	}
	return map[string]string{
		"memory_id":      m.MemoryID,
		"user_id":        m.UserID,
		"memory_type":    string(m.MemoryType),
		"importance":     importanceName(m.Importance),
		"confidence":     confidenceName(m.Confidence),
		"created_at":     fmt.Sprintf("%d", m.CreatedAt),
		"last_accessed":  fmt.Sprintf("%d", m.LastAccessed),
		"access_count":   fmt.Sprintf("%d", m.AccessCount),
		"subjects":       encode([]string{m.Subject}),
		"keywords":       encode(m.Keywords),
		"tags":           encode(m.Tags),
		"categories":     encode(m.Categories),
		"relevance_score": fmt.Sprintf("%g", m.RelevanceScore),
		"predicate":      m.Predicate,
		"object":         m.Object,
		"source_context": m.SourceContext,
	}
}

func importanceName(i types.ImportanceLevel) string {
	switch i {
	case types.ImportanceLow:
		return "low"
	case types.ImportanceMedium:
		return "medium"
	case types.ImportanceHigh:
		return "high"
	case types.ImportanceCritical:
		return "critical"
	default:
		return "medium"
	}
}

func confidenceName(c types.ConfidenceLevel) string {
	switch c {
	case types.ConfidenceLow:
		return "low"
	case types.ConfidenceMedium:
		return "medium"
	case types.ConfidenceHigh:
		return "high"
	case types.ConfidenceVeryHigh:
		return "very_high"
	default:
		return "medium"
	}
}

// Upsert writes a single MemoryChunk's embedding, metadata and document
// text into the unified collection. Re-adding the same memory_id
// overwrites in place (chromem-go AddDocument upserts by id), which is
// what gives the store side of its idempotency.
func (vs *VectorStore) Upsert(ctx context.Context, m *types.MemoryChunk) error {
	doc := chromem.Document{
		ID:       m.MemoryID,
		Content:  m.Text,
		Metadata: chunkMetadata(m),
	}
	if len(m.Embedding) > 0 {
		doc.Embedding = m.Embedding
	}
	if err := vs.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("memory: upsert %s: %w", m.MemoryID, err)
	}
	return nil
}

// Delete removes the given memory ids from the vector store. Missing
// ids are not an error.
func (vs *VectorStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := vs.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("memory: delete %v: %w", ids, err)
	}
	return nil
}

// Get fetches a chunk by id directly (no similarity search), used for
// round-trip checks, the fusion lookup of recent chunks, and the
// forgetting sweep.
func (vs *VectorStore) Get(ctx context.Context, id string) (*types.MemoryChunk, bool) {
	doc, err := vs.collection.GetByID(ctx, id)
	if err != nil {
		return nil, false
	}
	return chunkFromDocument(doc), true
}

// QueryCandidates embeds query and searches the unified collection
// restricted to candidateIDs,
// applying similarityThreshold and returning chunks sorted by
// similarity descending.
func (vs *VectorStore) QueryCandidates(ctx context.Context, query string, candidateIDs []string, limit int, similarityThreshold float32) ([]ScoredChunk, error) {
	if vs.collection.Count() == 0 || len(candidateIDs) == 0 {
		return nil, nil
	}

	n := limit
	if n <= 0 || n > vs.collection.Count() {
		n = vs.collection.Count()
	}

	idSet := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		idSet[id] = true
	}

	// chromem-go's where-clause language only matches metadata field
	// equality, not "id in set"; restrict by over-fetching then
	// filtering to the candidate set client-side. Query rejects
	// nResults above the document count, so clamp.
	fetch := n*4 + len(candidateIDs)
	if total := vs.collection.Count(); fetch > total {
		fetch = total
	}
	results, err := vs.collection.Query(ctx, query, fetch, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: vector query: %w", err)
	}

	var out []ScoredChunk
	for _, r := range results {
		if !idSet[r.ID] {
			continue
		}
		if r.Similarity < similarityThreshold {
			continue
		}
		out = append(out, ScoredChunk{Chunk: documentToChunk(r.ID, r.Content, r.Metadata), Similarity: r.Similarity})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ScoredChunk pairs a MemoryChunk with its vector similarity.
type ScoredChunk struct {
	Chunk      *types.MemoryChunk
	Similarity float32
}

// Count reports the number of chunks currently stored.
func (vs *VectorStore) Count() int {
	return vs.collection.Count()
}

func chunkFromDocument(doc chromem.Document) *types.MemoryChunk {
	return documentToChunk(doc.ID, doc.Content, doc.Metadata)
}

func documentToChunk(id, content string, meta map[string]string) *types.MemoryChunk {
	m := &types.MemoryChunk{
		MemoryID:      id,
		Text:          content,
		UserID:        meta["user_id"],
		MemoryType:    types.MemoryType(meta["memory_type"]),
		Predicate:     meta["predicate"],
		Object:        meta["object"],
		SourceContext: meta["source_context"],
	}
	var subjects []string
	_ = json.Unmarshal([]byte(meta["subjects"]), &subjects)
	if len(subjects) > 0 {
		m.Subject = subjects[0]
	}
	_ = json.Unmarshal([]byte(meta["keywords"]), &m.Keywords)
	_ = json.Unmarshal([]byte(meta["tags"]), &m.Tags)
	_ = json.Unmarshal([]byte(meta["categories"]), &m.Categories)
	fmt.Sscanf(meta["created_at"], "%d", &m.CreatedAt)
	fmt.Sscanf(meta["last_accessed"], "%d", &m.LastAccessed)
	fmt.Sscanf(meta["access_count"], "%d", &m.AccessCount)
	fmt.Sscanf(meta["relevance_score"], "%g", &m.RelevanceScore)
	m.Importance = importanceFromName(meta["importance"])
	m.Confidence = confidenceFromName(meta["confidence"])
	return m
}

func importanceFromName(s string) types.ImportanceLevel {
	switch s {
	case "low":
		return types.ImportanceLow
	case "high":
		return types.ImportanceHigh
	case "critical":
		return types.ImportanceCritical
	default:
		return types.ImportanceMedium
	}
}

func confidenceFromName(s string) types.ConfidenceLevel {
	switch s {
	case "low":
		return types.ConfidenceLow
	case "high":
		return types.ConfidenceHigh
	case "very_high":
		return types.ConfidenceVeryHigh
	default:
		return types.ConfidenceMedium
	}
}
