package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mofoxlab/corebot/pkg/types"
)

// IndexEntry is one row of the on-disk JSON metadata index.
type IndexEntry struct {
	MemoryID       string   `json:"memory_id"`
	UserID         string   `json:"user_id"`
	MemoryType     string   `json:"memory_type"`
	Subjects       []string `json:"subjects"`
	Objects        []string `json:"objects"`
	Keywords       []string `json:"keywords"`
	Tags           []string `json:"tags"`
	Importance     int      `json:"importance"`
	Confidence     int      `json:"confidence"`
	CreatedAt      int64    `json:"created_at"`
	AccessCount    int64    `json:"access_count"`
	ChatID         string   `json:"chat_id,omitempty"`
	ContentPreview string   `json:"content_preview,omitempty"`
}

func entryFromChunk(m *types.MemoryChunk) IndexEntry {
	preview := m.Text
	if r := []rune(preview); len(r) > 120 {
		preview = string(r[:120]) + "..."
	}
	return IndexEntry{
		MemoryID:       m.MemoryID,
		UserID:         m.UserID,
		MemoryType:     string(m.MemoryType),
		Subjects:       []string{m.Subject},
		Objects:        []string{m.Object},
		Keywords:       m.Keywords,
		Tags:           m.Tags,
		Importance:     int(m.Importance),
		Confidence:     int(m.Confidence),
		CreatedAt:      m.CreatedAt,
		AccessCount:    m.AccessCount,
		ChatID:         m.ChatID,
		ContentPreview: preview,
	}
}

// indexFile is the on-disk layout: {version, count, last_updated, entries}.
type indexFile struct {
	Version     int          `json:"version"`
	Count       int          `json:"count"`
	LastUpdated int64        `json:"last_updated"`
	Entries     []IndexEntry `json:"entries"`
}

// MetadataIndex is the JSON inverted-index sidecar: a primary
// map keyed by memory_id plus secondary inverted sets for
// memory_type/subject/keyword/tag, rebuilt on load and persisted via
// atomic temp-file replace, the same discipline kv.FileStore uses.
type MetadataIndex struct {
	mu   sync.RWMutex // internal helpers take the lock exactly once
	path string

	entries map[string]IndexEntry

	byType    map[string]map[string]bool
	bySubject map[string]map[string]bool
	byKeyword map[string]map[string]bool
	byTag     map[string]map[string]bool
}

// NewMetadataIndex loads (or creates) the index file at
// workspacePath/memory/metadata_index.json.
func NewMetadataIndex(workspacePath string) (*MetadataIndex, error) {
	idx := &MetadataIndex{
		path:      filepath.Join(workspacePath, "memory", "metadata_index.json"),
		entries:   make(map[string]IndexEntry),
		byType:    make(map[string]map[string]bool),
		bySubject: make(map[string]map[string]bool),
		byKeyword: make(map[string]map[string]bool),
		byTag:     make(map[string]map[string]bool),
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return nil, fmt.Errorf("memory: create index dir: %w", err)
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *MetadataIndex) load() error {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("memory: read metadata index: %w", err)
	}

	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("memory: parse metadata index: %w", err)
	}
	for _, e := range file.Entries {
		idx.entries[e.MemoryID] = e
		idx.updateInvertedLocked(e)
	}
	return nil
}

func (idx *MetadataIndex) updateInvertedLocked(e IndexEntry) {
	addTo := func(m map[string]map[string]bool, key string) {
		if key == "" {
			return
		}
		if m[key] == nil {
			m[key] = make(map[string]bool)
		}
		m[key][e.MemoryID] = true
	}
	addTo(idx.byType, e.MemoryType)
	for _, s := range e.Subjects {
		addTo(idx.bySubject, strings.ToLower(s))
	}
	for _, k := range e.Keywords {
		addTo(idx.byKeyword, strings.ToLower(k))
	}
	for _, t := range e.Tags {
		addTo(idx.byTag, strings.ToLower(t))
	}
}

func (idx *MetadataIndex) removeFromInvertedLocked(e IndexEntry) {
	removeFrom := func(m map[string]map[string]bool, key string) {
		if set, ok := m[key]; ok {
			delete(set, e.MemoryID)
			if len(set) == 0 {
				delete(m, key)
			}
		}
	}
	removeFrom(idx.byType, e.MemoryType)
	for _, s := range e.Subjects {
		removeFrom(idx.bySubject, strings.ToLower(s))
	}
	for _, k := range e.Keywords {
		removeFrom(idx.byKeyword, strings.ToLower(k))
	}
	for _, t := range e.Tags {
		removeFrom(idx.byTag, strings.ToLower(t))
	}
}

// AddOrUpdate upserts one chunk's entry and its inverted-index rows,
// then persists. Re-adding the same memory_id is idempotent.
func (idx *MetadataIndex) AddOrUpdate(m *types.MemoryChunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.entries[m.MemoryID]; ok {
		idx.removeFromInvertedLocked(old)
	}
	e := entryFromChunk(m)
	idx.entries[m.MemoryID] = e
	idx.updateInvertedLocked(e)
	return idx.saveLocked()
}

// Remove deletes memoryID from the index (primary + inverted sets).
func (idx *MetadataIndex) Remove(memoryID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[memoryID]
	if !ok {
		return nil
	}
	idx.removeFromInvertedLocked(e)
	delete(idx.entries, memoryID)
	return idx.saveLocked()
}

// GetEntry returns the entry for memoryID, if present.
func (idx *MetadataIndex) GetEntry(memoryID string) (IndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[memoryID]
	return e, ok
}

// UpdateAccess bumps access_count for memoryID in the index cache and
// persists it. IndexEntry has no last_accessed field, so accessedAt is
// not recorded here; last_accessed lives only on the chunk itself.
func (idx *MetadataIndex) UpdateAccess(memoryID string, accessedAt int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[memoryID]
	if !ok {
		return nil
	}
	e.AccessCount++
	idx.entries[memoryID] = e
	return idx.saveLocked()
}

func (idx *MetadataIndex) saveLocked() error {
	entries := make([]IndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		entries = append(entries, e)
	}
	file := indexFile{Version: 2, Count: len(entries), Entries: entries}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal metadata index: %w", err)
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memory: write metadata index temp: %w", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("memory: rename metadata index: %w", err)
	}
	return nil
}

// CoarseFilterParams is the Stage-2 query the retrieval pipeline runs
// against the index.
type CoarseFilterParams struct {
	UserID        string
	MemoryTypes   []string
	Subjects      []string
	CreatedAfter  int64
	CreatedBefore int64
	Limit         int
	Strict        bool
}

// SearchFlexible implements the default "flexible" coarse-filter mode:
// score each candidate on 4 dimensions (type/subject/object/time),
// keep rows with score >= 2, ranked by (score, created_at) descending.
func (idx *MetadataIndex) SearchFlexible(p CoarseFilterParams) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	// A plan with no filter dimensions at all can never reach the score
	// floor; fall back to user-scoped recency so bare queries still get
	// candidates for the vector stage to rank.
	if len(p.MemoryTypes) == 0 && len(p.Subjects) == 0 && p.CreatedAfter == 0 && p.CreatedBefore == 0 {
		return idx.recentIDsLocked(p.UserID, p.Limit)
	}

	var candidates []scoredCandidate

	for id, e := range idx.entries {
		if p.UserID != "" && e.UserID != p.UserID {
			continue
		}

		var score float64

		if len(p.MemoryTypes) > 0 {
			typeScore := 0.0
			for _, mt := range p.MemoryTypes {
				if strings.EqualFold(mt, e.MemoryType) {
					typeScore = 1
					break
				}
				if strings.Contains(strings.ToLower(e.MemoryType), strings.ToLower(mt)) ||
					strings.Contains(strings.ToLower(mt), strings.ToLower(e.MemoryType)) {
					typeScore = 0.5
				}
			}
			score += typeScore
		}

		if len(p.Subjects) > 0 {
			subjectScore := 0.0
		subjLoop:
			for _, s := range p.Subjects {
				sNorm := strings.ToLower(strings.TrimSpace(s))
				for _, es := range e.Subjects {
					esNorm := strings.ToLower(strings.TrimSpace(es))
					if sNorm == esNorm {
						subjectScore = 1
						break subjLoop
					}
					if strings.Contains(esNorm, sNorm) || strings.Contains(sNorm, esNorm) {
						subjectScore = 0.6
					}
				}
			}
			score += subjectScore
		}

		// Object-subject association ("主宾关联"): object text containing
		// any provided subject counts toward a match. Useful but noisy;
		// treat the 0.8 weight as tunable.
		objectScore := 0.0
		for _, eo := range e.Objects {
			eoNorm := strings.ToLower(strings.TrimSpace(eo))
			for _, s := range p.Subjects {
				sNorm := strings.ToLower(strings.TrimSpace(s))
				if sNorm != "" && (strings.Contains(eoNorm, sNorm) || strings.Contains(sNorm, eoNorm)) {
					objectScore = 0.8
					break
				}
			}
			if objectScore > 0 {
				break
			}
		}
		score += objectScore

		if p.CreatedAfter != 0 || p.CreatedBefore != 0 {
			match := true
			if p.CreatedAfter != 0 && e.CreatedAt < p.CreatedAfter {
				match = false
			}
			if p.CreatedBefore != 0 && e.CreatedAt > p.CreatedBefore {
				match = false
			}
			if match {
				score++
			}
		}

		if score >= 2 {
			candidates = append(candidates, scoredCandidate{id: id, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return idx.entries[candidates[i].id].CreatedAt > idx.entries[candidates[j].id].CreatedAt
	})

	limit := p.Limit
	if limit <= 0 {
		limit = len(candidates)
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}

	out := make([]string, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, c.id)
	}
	return out
}

// scoredCandidate pairs a memory id with its flexible-search score.
type scoredCandidate struct {
	id    string
	score float64
}

// recentIDsLocked returns up to limit ids for userID (empty matches
// all), newest first. Callers hold at least the read lock.
func (idx *MetadataIndex) recentIDsLocked(userID string, limit int) []string {
	var ids []string
	for id, e := range idx.entries {
		if userID != "" && e.UserID != userID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return idx.entries[ids[i]].CreatedAt > idx.entries[ids[j]].CreatedAt
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// SearchStrict implements the "strict" coarse-filter mode: AND
// combinations of exact filters with $in semantics over type and
// subjects.
func (idx *MetadataIndex) SearchStrict(p CoarseFilterParams) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []string
	for id, e := range idx.entries {
		if p.UserID != "" && e.UserID != p.UserID {
			continue
		}
		if len(p.MemoryTypes) > 0 && !containsFold(p.MemoryTypes, e.MemoryType) {
			continue
		}
		if len(p.Subjects) > 0 && !anySubjectIn(p.Subjects, e.Subjects) {
			continue
		}
		if p.CreatedAfter != 0 && e.CreatedAt < p.CreatedAfter {
			continue
		}
		if p.CreatedBefore != 0 && e.CreatedAt > p.CreatedBefore {
			continue
		}
		out = append(out, id)
	}

	limit := p.Limit
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

func anySubjectIn(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}

// Snapshot returns a copy of every entry currently in the index, used by
// the forgetting sweep to scan retention candidates.
func (idx *MetadataIndex) Snapshot() []IndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]IndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	return out
}

// Stats returns coarse index statistics, mainly for the status surface.
func (idx *MetadataIndex) Stats() map[string]interface{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return map[string]interface{}{
		"count":      len(idx.entries),
		"type_count": len(idx.byType),
	}
}
