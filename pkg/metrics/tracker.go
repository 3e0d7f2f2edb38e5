package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UsageEvent records one call to an external collaborator (LLM,
// embedder, vector DB) for the raw audit stream. Prometheus carries the
// aggregates; this file carries the per-event trail.
type UsageEvent struct {
	Timestamp   string `json:"ts"`
	Component   string `json:"component"`
	RequestType string `json:"request_type,omitempty"`
	Model       string `json:"model,omitempty"`

	InputTokens  int `json:"in,omitempty"`
	OutputTokens int `json:"out,omitempty"`
	DurationMS   int `json:"duration_ms,omitempty"`

	StreamID string `json:"stream_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Tracker appends usage events to a JSONL file.
type Tracker struct {
	filePath string
	mu       sync.Mutex
}

// NewTracker creates a tracker that writes to workspace/metrics/usage.jsonl.
func NewTracker(workspace string) *Tracker {
	dir := filepath.Join(workspace, "metrics")
	os.MkdirAll(dir, 0755)
	return &Tracker{
		filePath: filepath.Join(dir, "usage.jsonl"),
	}
}

// Record appends a usage event to the JSONL file. Failures are silently
// dropped: the audit stream must never take down the caller.
func (t *Tracker) Record(event UsageEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().Format(time.RFC3339)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	f.Write(data)
	f.Write([]byte("\n"))
}
