package planner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mofoxlab/corebot/pkg/types"
)

// ActionType names the built-in action kinds. Plugin actions register
// additional names at runtime.
const (
	ActionReply    = "reply"
	ActionNoAction = "no_action"
	ActionEmoji    = "emoji"
)

// ActionResult is what running one action produced.
type ActionResult struct {
	Success bool
	Text    string
	Command string
	Err     error
}

// ActionContext carries the per-stream state an action may touch while
// running.
type ActionContext struct {
	StreamID string
	// TargetMessage is the message the action responds to, when one was
	// selected by the filter.
	TargetMessage *types.Message
	// Mode the plan was generated under.
	Mode Mode
}

// ActionHandler is one registered action: metadata the filter shows the
// LLM, plus the run entry point. Handlers with IsParallel true may run
// concurrently with each other; reply actions never do.
type ActionHandler interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	IsParallel() bool
	Run(ctx context.Context, actx ActionContext, args map[string]string) ActionResult
}

// Registry maps action names to handlers. Lookup by tag, registration
// at wiring time; the set handed to one plan is intersected with the
// stream's declared format support.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ActionHandler)}
}

// Register adds or replaces a handler under its own name.
func (r *Registry) Register(h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Get looks a handler up by name.
func (r *Registry) Get(name string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Available returns the handlers usable for one plan, excluding any
// named in exclude (e.g. "reply" when the channel's format doesn't
// support it). The result is a copy; mutating it doesn't affect the
// registry.
func (r *Registry) Available(exclude map[string]bool) map[string]ActionHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ActionHandler, len(r.handlers))
	for name, h := range r.handlers {
		if exclude[name] {
			continue
		}
		out[name] = h
	}
	return out
}

// Names returns the registered action names, sorted for stable prompts.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecidedAction is one filter output row: which action to run, with what
// arguments, and why.
type DecidedAction struct {
	ActionType    string            `json:"action_type"`
	ActionData    map[string]string `json:"action_data,omitempty"`
	Reasoning     string            `json:"reasoning,omitempty"`
	ActionMessage *types.Message    `json:"-"`
}

// noActionDecision builds the short-circuit decision used by the gate
// and every failure path.
func noActionDecision(reason string) DecidedAction {
	return DecidedAction{ActionType: ActionNoAction, Reasoning: reason}
}

// ErrUnknownAction is returned when the filter decides an action no
// handler is registered for.
var ErrUnknownAction = fmt.Errorf("planner: unknown action type")
