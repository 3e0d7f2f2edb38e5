package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mofoxlab/corebot/pkg/bus"
)

// SendCallback delivers a reply to the transport layer. The message
// manager wires this to the bus send path.
type SendCallback func(ctx context.Context, streamID, content, replyTo string) error

// ReplyGenerator produces the reply text for a target message. In
// production this is the LLM collaborator; tests use a canned generator.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, actx ActionContext, hint string) (string, error)
}

// StreamingReplyGenerator is implemented by generators that can emit
// the reply incrementally. Deltas go through onDelta as they are
// produced; the accumulated text is the reply.
type StreamingReplyGenerator interface {
	GenerateReplyStream(ctx context.Context, actx ActionContext, hint string, onDelta func(delta string)) error
}

// ReplyUpdateCallback pushes the partial reply text so the transport
// can edit the outgoing message in place while generation runs.
type ReplyUpdateCallback func(streamID, partial string)

// ReplyAction sends a generated reply through the transport. It never
// runs in parallel: the executor runs it serially on the calling
// goroutine, which in the dispatcher is the stream's single tick worker.
type ReplyAction struct {
	generator ReplyGenerator
	send      SendCallback

	update         ReplyUpdateCallback
	updateInterval time.Duration
}

// NewReplyAction wires the reply handler.
func NewReplyAction(generator ReplyGenerator, send SendCallback) *ReplyAction {
	return &ReplyAction{generator: generator, send: send}
}

// EnableStreaming turns on throttled partial-reply updates for
// generators that implement StreamingReplyGenerator: at most one
// update per interval, pushed through update.
func (a *ReplyAction) EnableStreaming(update ReplyUpdateCallback, interval time.Duration) {
	a.update = update
	a.updateInterval = interval
}

func (a *ReplyAction) Name() string { return ActionReply }

func (a *ReplyAction) Description() string {
	return "回复用户消息。当消息值得回应时选择此动作。"
}

func (a *ReplyAction) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"hint": map[string]interface{}{
				"type":        "string",
				"description": "可选：回复内容的侧重点",
			},
		},
	}
}

func (a *ReplyAction) IsParallel() bool { return false }

func (a *ReplyAction) Run(ctx context.Context, actx ActionContext, args map[string]string) ActionResult {
	if a.send == nil {
		return ActionResult{Err: fmt.Errorf("planner: reply sending not configured")}
	}

	text := args["content"]
	if text == "" && a.generator != nil {
		generated, err := a.generate(ctx, actx, args["hint"])
		if err != nil {
			return ActionResult{Err: fmt.Errorf("planner: generate reply: %w", err)}
		}
		text = generated
	}
	if strings.TrimSpace(text) == "" {
		return ActionResult{Err: fmt.Errorf("planner: empty reply text")}
	}

	replyTo := ""
	if actx.TargetMessage != nil {
		replyTo = actx.TargetMessage.MessageID
	}
	if err := a.send(ctx, actx.StreamID, text, replyTo); err != nil {
		return ActionResult{Err: fmt.Errorf("planner: send reply: %w", err)}
	}
	return ActionResult{Success: true, Text: text}
}

// generate produces the reply text, streaming partial updates through
// a throttled notifier when both the generator and the wiring support
// it.
func (a *ReplyAction) generate(ctx context.Context, actx ActionContext, hint string) (string, error) {
	if sg, ok := a.generator.(StreamingReplyGenerator); ok && a.update != nil {
		notifier := bus.NewStreamNotifier(actx.StreamID, a.updateInterval, a.update)
		if err := sg.GenerateReplyStream(ctx, actx, hint, notifier.Append); err != nil {
			return "", err
		}
		return notifier.Flush(), nil
	}
	return a.generator.GenerateReply(ctx, actx, hint)
}

// EmojiAction reacts to the target message with an emoji keyword. The
// transport decides how the keyword maps onto a platform reaction.
type EmojiAction struct {
	send SendCallback
}

// NewEmojiAction wires the emoji handler.
func NewEmojiAction(send SendCallback) *EmojiAction {
	return &EmojiAction{send: send}
}

func (a *EmojiAction) Name() string { return ActionEmoji }

func (a *EmojiAction) Description() string {
	return "用一个表情回应消息。适合不需要文字回复但值得回应的消息。"
}

func (a *EmojiAction) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"emotion": map[string]interface{}{
				"type":        "string",
				"description": "表达的情绪，如 开心、惊讶、疑惑",
			},
		},
		"required": []string{"emotion"},
	}
}

func (a *EmojiAction) IsParallel() bool { return true }

func (a *EmojiAction) Run(ctx context.Context, actx ActionContext, args map[string]string) ActionResult {
	if a.send == nil {
		return ActionResult{Err: fmt.Errorf("planner: emoji sending not configured")}
	}
	emotion := args["emotion"]
	if emotion == "" {
		return ActionResult{Err: fmt.Errorf("planner: emotion is required")}
	}

	replyTo := ""
	if actx.TargetMessage != nil {
		replyTo = actx.TargetMessage.MessageID
	}
	text := "[表情:" + emotion + "]"
	if err := a.send(ctx, actx.StreamID, text, replyTo); err != nil {
		return ActionResult{Err: fmt.Errorf("planner: send emoji: %w", err)}
	}
	return ActionResult{Success: true, Text: text}
}
