package planner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/streamctx"
)

// EventAfterSend is emitted once per executed action so plugin hooks can
// observe what happened without sitting inside the execution path.
const EventAfterSend = "after_send"

// Events is the outbound hook contract. Emissions are fire-and-forget.
type Events interface {
	Emit(eventType string, payload map[string]interface{})
}

// ExecutionResult summarizes what one cycle actually did.
type ExecutionResult struct {
	ExecutedActions []string
	ReplyText       string
	HasReply        bool
	Failed          int
}

// Executor runs a plan's decided actions in order. Reply actions run
// serially on the calling goroutine (in the dispatcher, the stream's
// single tick worker); actions whose handler reports IsParallel run
// concurrently with each other between the serial ones.
type Executor struct {
	registry *Registry
	events   Events
}

// NewExecutor builds an Executor; events may be nil.
func NewExecutor(registry *Registry, events Events) *Executor {
	return &Executor{registry: registry, events: events}
}

// Execute runs the decided actions. A handler error fails that action
// only; the cycle continues with the rest. Each executed action is
// recorded on the stream's decision trail and appended to its target
// message's actions list.
func (e *Executor) Execute(ctx context.Context, plan *Plan, stream *streamctx.StreamContext, now int64) ExecutionResult {
	var result ExecutionResult
	var mu sync.Mutex

	runOne := func(d DecidedAction) {
		handler, ok := e.registry.Get(d.ActionType)
		if !ok {
			mu.Lock()
			result.Failed++
			mu.Unlock()
			return
		}

		actx := ActionContext{StreamID: stream.ID, TargetMessage: d.ActionMessage, Mode: plan.Mode}
		r := handler.Run(ctx, actx, d.ActionData)

		mu.Lock()
		defer mu.Unlock()
		if !r.Success {
			result.Failed++
			logger.WarnCF("planner", "action failed", map[string]interface{}{
				"stream_id": stream.ID, "action_type": d.ActionType, "error": errString(r.Err),
			})
			return
		}

		result.ExecutedActions = append(result.ExecutedActions, d.ActionType)
		if d.ActionType == ActionReply {
			result.HasReply = true
			result.ReplyText = r.Text
		}

		stream.RecordDecision(d.Reasoning, d.ActionType, now)
		if d.ActionMessage != nil {
			d.ActionMessage.Actions = append(d.ActionMessage.Actions, d.ActionType)
		}
		if e.events != nil {
			e.events.Emit(EventAfterSend, map[string]interface{}{
				"stream_id":   stream.ID,
				"action_type": d.ActionType,
				"text":        r.Text,
			})
		}
	}

	// Partition while preserving order: parallel-capable non-reply
	// actions fan out together, everything else runs in sequence.
	var parallel []DecidedAction
	flushParallel := func() {
		if len(parallel) == 0 {
			return
		}
		g, _ := errgroup.WithContext(ctx)
		for _, d := range parallel {
			d := d
			g.Go(func() error {
				runOne(d)
				return nil
			})
		}
		g.Wait()
		parallel = nil
	}

	for _, d := range plan.Decided {
		if d.ActionType == ActionNoAction {
			continue
		}
		handler, ok := e.registry.Get(d.ActionType)
		if ok && handler.IsParallel() && d.ActionType != ActionReply {
			parallel = append(parallel, d)
			continue
		}
		flushParallel()
		runOne(d)
	}
	flushParallel()

	return result
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
