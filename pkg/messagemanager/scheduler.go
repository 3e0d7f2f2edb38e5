package messagemanager

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/planner"
	"github.com/mofoxlab/corebot/pkg/streamctx"
	"github.com/mofoxlab/corebot/pkg/types"
)

// ConversationTick is one unit of planner work on a stream.
type ConversationTick struct {
	StreamID string
	Reason   string
	At       time.Time
}

// BotIdentity names the synthetic bot-turn messages the scheduler
// appends to history after a reply is sent.
type BotIdentity struct {
	UserID   string
	Nickname string
}

// Dispatcher drives per-stream processing: each active stream gets one
// worker goroutine consuming a channel of ConversationTicks, so one
// tick runs per stream at a time while many streams proceed in
// parallel. New messages either create a pending tick, push an existing
// tick's deadline, or roll an interruption against the stream's
// counter.
type Dispatcher struct {
	cfg      Config
	manager  *Manager
	planner  *planner.Planner
	executor *planner.Executor
	bot      BotIdentity

	mu      sync.Mutex
	pending map[string]*time.Timer
	ticks   map[string]chan ConversationTick
	cancels map[string]context.CancelFunc

	// rand returns a uniform float in [0,1); injectable for tests.
	rand func() float64
	now  func() int64

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher wires the dispatcher and attaches it to the manager.
func NewDispatcher(cfg Config, m *Manager, p *planner.Planner, e *planner.Executor, bot BotIdentity, now func() int64) *Dispatcher {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	d := &Dispatcher{
		cfg:      cfg,
		manager:  m,
		planner:  p,
		executor: e,
		bot:      bot,
		pending:  make(map[string]*time.Timer),
		ticks:    make(map[string]chan ConversationTick),
		cancels:  make(map[string]context.CancelFunc),
		rand:     rand.Float64,
		now:      now,
		stopped:  make(chan struct{}),
	}
	m.SetDispatcher(d)
	return d
}

// OnMessageReceived reacts to a fresh message on streamID: roll an
// interruption if a tick is running, otherwise create or refresh the
// pending tick.
func (d *Dispatcher) OnMessageReceived(streamID string) {
	select {
	case <-d.stopped:
		return
	default:
	}

	stream := d.manager.GetOrCreateStream(streamID)

	if stream.IsChatterProcessing {
		d.rollInterruption(stream)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[streamID]; ok {
		// Push the deadline so closely spaced messages batch together.
		timer.Reset(d.cfg.DistributionInterval)
		return
	}

	d.pending[streamID] = time.AfterFunc(d.cfg.DistributionInterval, func() {
		d.enqueueTick(streamID, "message_received")
	})
}

// rollInterruption decides whether a mid-processing message aborts the
// running tick. A successful roll bumps the counter, cancels the tick,
// and schedules an immediate follow-up.
func (d *Dispatcher) rollInterruption(stream *streamctx.StreamContext) {
	p := streamctx.InterruptionProbability(stream.InterruptionCount, d.cfg.Stream.MinInterruptProb, d.cfg.Stream.MaxInterruptCount)
	if d.rand() >= p {
		return
	}

	stream.IncrementInterruptionCount(d.now())
	logger.InfoCF("messagemanager", "tick interrupted by new message", map[string]interface{}{
		"stream_id": stream.ID, "interruption_count": stream.InterruptionCount,
	})

	d.mu.Lock()
	cancel := d.cancels[stream.ID]
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.enqueueTick(stream.ID, "interruption")
}

// enqueueTick drops the pending marker and queues a tick on the
// stream's worker, starting the worker lazily.
func (d *Dispatcher) enqueueTick(streamID, reason string) {
	d.mu.Lock()
	if timer, ok := d.pending[streamID]; ok {
		timer.Stop()
		delete(d.pending, streamID)
	}

	ch, ok := d.ticks[streamID]
	if !ok {
		ch = make(chan ConversationTick, 8)
		d.ticks[streamID] = ch
		d.wg.Add(1)
		go d.runStream(ch)
	}
	d.mu.Unlock()

	select {
	case ch <- ConversationTick{StreamID: streamID, Reason: reason, At: time.Unix(d.now(), 0)}:
	default:
		// A full tick queue means work is already scheduled; the queued
		// ticks will see this message in unread.
	}
}

// runStream is one stream's worker: ticks execute strictly one at a
// time, preserving arrival-order processing within the stream.
func (d *Dispatcher) runStream(ch chan ConversationTick) {
	defer d.wg.Done()
	for {
		select {
		case tick := <-ch:
			d.processTick(tick)
		case <-d.stopped:
			return
		}
	}
}

// processTick runs one planner cycle against the stream. Every exit
// path restores the stream to a consistent state: processing flag
// cleared, cache flushed.
func (d *Dispatcher) processTick(tick ConversationTick) {
	stream := d.manager.GetOrCreateStream(tick.StreamID)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ThinkingTimeout)
	d.mu.Lock()
	d.cancels[tick.StreamID] = cancel
	d.mu.Unlock()

	stream.SetChatterProcessing(true)
	defer func() {
		stream.SetChatterProcessing(false)
		stream.FlushCache()
		d.mu.Lock()
		delete(d.cancels, tick.StreamID)
		d.mu.Unlock()
		cancel()
		d.manager.PersistStreamState(tick.StreamID)
	}()

	unread := stream.UnreadMessages()
	if len(unread) == 0 {
		return
	}

	plan := d.planner.Plan(ctx, stream, planner.ModeNormal, true)
	result := d.executor.Execute(ctx, plan, stream, d.now())

	if ctx.Err() != nil {
		// Deadline or interruption: leave unread untouched so the next
		// tick retries; no side effects past this point.
		logger.WarnCF("messagemanager", "tick cancelled", map[string]interface{}{
			"stream_id": tick.StreamID, "reason": ctx.Err().Error(),
		})
		return
	}

	// Processed user messages move to history first, then the bot turn
	// lands behind them, so any message arriving later (still in cache)
	// sorts after the reply.
	for _, msg := range unread {
		stream.MarkRead(msg.MessageID)
	}

	if result.HasReply {
		d.appendBotTurn(ctx, stream, plan, result.ReplyText)
		stream.ResetInterruptionCount()
	}
	d.planner.Scorer().RecordReplyAction(result.HasReply)
}

// appendBotTurn persists the bot's own reply as a history message.
func (d *Dispatcher) appendBotTurn(ctx context.Context, stream *streamctx.StreamContext, plan *planner.Plan, text string) {
	platform := ""
	if plan.TargetMessage != nil {
		platform = plan.TargetMessage.Platform
	}
	botMsg := &types.Message{
		MessageID:          uuid.NewString(),
		Time:               d.now(),
		Platform:           platform,
		UserID:             d.bot.UserID,
		UserNickname:       d.bot.Nickname,
		ProcessedPlainText: text,
		DisplayMessage:     text,
	}
	stream.AddMessage(botMsg, true)
	stream.MarkRead(botMsg.MessageID)

	if d.manager.msgWriter != nil {
		d.manager.msgWriter.Enqueue(ctx, botMsg)
	}
}

// Stop halts every worker and cancels any in-flight tick.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
		d.mu.Lock()
		for _, timer := range d.pending {
			timer.Stop()
		}
		for _, cancel := range d.cancels {
			cancel()
		}
		d.mu.Unlock()
		d.wg.Wait()
	})
}
