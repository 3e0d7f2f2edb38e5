package planner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/interest"
	"github.com/mofoxlab/corebot/pkg/streamctx"
	"github.com/mofoxlab/corebot/pkg/types"
)

type stubFilter struct {
	decided []DecidedAction
	err     error
	lastIn  FilterInput
}

func (f *stubFilter) Filter(ctx context.Context, in FilterInput) ([]DecidedAction, error) {
	f.lastIn = in
	return f.decided, f.err
}

type sendRecorder struct {
	mu    sync.Mutex
	sent  []string
	calls int
}

func (s *sendRecorder) send(ctx context.Context, streamID, content, replyTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, content)
	s.calls++
	return nil
}

type cannedGenerator string

func (g cannedGenerator) GenerateReply(ctx context.Context, actx ActionContext, hint string) (string, error) {
	return string(g), nil
}

func newStream(t *testing.T, msgs ...*types.Message) *streamctx.StreamContext {
	t.Helper()
	s := streamctx.New("s1", streamctx.DefaultConfig())
	for _, m := range msgs {
		require.True(t, s.AddMessage(m, false))
	}
	return s
}

func privateMessage(id, text string) *types.Message {
	return &types.Message{
		MessageID: id, Time: 1000, Platform: "qq", UserID: "u1",
		ProcessedPlainText: text, DisplayMessage: text,
	}
}

func newPlanner(cfg Config, filter Filter, registry *Registry) *Planner {
	scorer := interest.NewScorer(interest.DefaultConfig(), nil)
	return New(cfg, scorer, filter, registry, nil, "麦麦", nil)
}

func TestGateShortCircuitsToNoAction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NonReplyActionInterestThreshold = 0.9

	filter := &stubFilter{}
	p := newPlanner(cfg, filter, NewRegistry())
	stream := newStream(t, privateMessage("m1", "随便聊聊"))

	plan := p.Plan(context.Background(), stream, ModeNormal, true)

	require.Len(t, plan.Decided, 1)
	require.Equal(t, ActionNoAction, plan.Decided[0].ActionType)
	// The filter must not be consulted for gated cycles.
	require.Zero(t, filter.lastIn.UnreadCount)
}

func TestPlanScoresUnreadMessages(t *testing.T) {
	p := newPlanner(DefaultConfig(), &stubFilter{decided: []DecidedAction{noActionDecision("test")}}, NewRegistry())
	msg := privateMessage("m1", "你好麦麦，今天天气真好")
	msg.IsMentioned = true
	stream := newStream(t, msg)

	plan := p.Plan(context.Background(), stream, ModeNormal, true)

	require.Greater(t, plan.MaxInterest, 0.0)
	require.Equal(t, msg.MessageID, plan.TargetMessage.MessageID)
	require.Greater(t, msg.InterestValue, 0.0)
	require.True(t, msg.ShouldReply)
}

func TestFilterErrorDowngradesToNoAction(t *testing.T) {
	filter := &stubFilter{err: errors.New("llm down")}
	p := newPlanner(DefaultConfig(), filter, NewRegistry())
	stream := newStream(t, privateMessage("m1", "你好麦麦"))

	plan := p.Plan(context.Background(), stream, ModeNormal, true)

	require.Len(t, plan.Decided, 1)
	require.Equal(t, ActionNoAction, plan.Decided[0].ActionType)
	// Plan itself leaves the unread messages unread.
	require.Equal(t, 1, stream.UnreadCount())
}

func TestUnknownDecidedActionsAreDropped(t *testing.T) {
	filter := &stubFilter{decided: []DecidedAction{{ActionType: "poke"}}}
	p := newPlanner(DefaultConfig(), filter, NewRegistry())
	stream := newStream(t, privateMessage("m1", "你好麦麦"))

	plan := p.Plan(context.Background(), stream, ModeNormal, true)

	require.Len(t, plan.Decided, 1)
	require.Equal(t, ActionNoAction, plan.Decided[0].ActionType)
}

func TestReplyExcludedWhenFormatUnsupported(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewReplyAction(cannedGenerator("hi"), (&sendRecorder{}).send))

	filter := &stubFilter{decided: []DecidedAction{noActionDecision("test")}}
	p := newPlanner(DefaultConfig(), filter, registry)
	stream := newStream(t, privateMessage("m1", "你好麦麦"))

	p.Plan(context.Background(), stream, ModeNormal, false)

	require.True(t, filter.lastIn.ReplyNotAvailable)
	require.NotContains(t, filter.lastIn.AvailableActions, ActionReply)
}

func TestExecuteReplyAction(t *testing.T) {
	rec := &sendRecorder{}
	registry := NewRegistry()
	registry.Register(NewReplyAction(cannedGenerator("今天确实不错！"), rec.send))

	filter := &stubFilter{decided: []DecidedAction{{ActionType: ActionReply, Reasoning: "friendly greeting"}}}
	p := newPlanner(DefaultConfig(), filter, registry)

	msg := privateMessage("m1", "你好麦麦，今天天气真好")
	msg.IsMentioned = true
	stream := newStream(t, msg)

	plan := p.Plan(context.Background(), stream, ModeNormal, true)
	executor := NewExecutor(registry, nil)
	result := executor.Execute(context.Background(), plan, stream, 1000)

	require.True(t, result.HasReply)
	require.Equal(t, "今天确实不错！", result.ReplyText)
	require.Equal(t, []string{"今天确实不错！"}, rec.sent)
	require.Contains(t, msg.Actions, ActionReply)

	history := stream.DecisionHistory()
	require.Len(t, history, 1)
	require.Equal(t, ActionReply, history[0].Action)
}

type afterSendRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *afterSendRecorder) Emit(eventType string, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func TestExecuteEmitsAfterSendEvents(t *testing.T) {
	rec := &sendRecorder{}
	events := &afterSendRecorder{}
	registry := NewRegistry()
	registry.Register(NewReplyAction(cannedGenerator("ok"), rec.send))
	registry.Register(NewEmojiAction(rec.send))

	plan := &Plan{
		Mode: ModeNormal,
		Decided: []DecidedAction{
			{ActionType: ActionEmoji, ActionData: map[string]string{"emotion": "开心"}},
			{ActionType: ActionReply},
		},
	}
	stream := streamctx.New("s1", streamctx.DefaultConfig())

	executor := NewExecutor(registry, events)
	result := executor.Execute(context.Background(), plan, stream, 1000)

	require.ElementsMatch(t, []string{ActionEmoji, ActionReply}, result.ExecutedActions)
	require.Len(t, events.events, 2)
	require.Equal(t, 2, rec.calls)
}

func TestExecutorContinuesPastFailedAction(t *testing.T) {
	rec := &sendRecorder{}
	registry := NewRegistry()
	// Emoji with a missing emotion argument fails; reply still runs.
	registry.Register(NewEmojiAction(rec.send))
	registry.Register(NewReplyAction(cannedGenerator("ok"), rec.send))

	plan := &Plan{
		Mode: ModeNormal,
		Decided: []DecidedAction{
			{ActionType: ActionEmoji},
			{ActionType: ActionReply},
		},
	}
	stream := streamctx.New("s1", streamctx.DefaultConfig())

	result := NewExecutor(registry, nil).Execute(context.Background(), plan, stream, 1000)

	require.Equal(t, 1, result.Failed)
	require.True(t, result.HasReply)
}
