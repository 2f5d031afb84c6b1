// ABOUTME: Session coordinator driving one streaming turn per thread at a time
// ABOUTME: Per-thread fail-fast turn locks, global concurrency cap, atomic commits

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/2389/travel-brain/internal/agent"
	"github.com/2389/travel-brain/internal/bus"
	"github.com/2389/travel-brain/internal/store"
)

// ErrTurnInProgress indicates the thread already has a running turn.
// Callers may retry later; requests are never queued.
var ErrTurnInProgress = errors.New("turn already in progress")

// ErrNoActiveTurn indicates an Attach on a thread with no running turn.
var ErrNoActiveTurn = errors.New("no active turn")

// ErrBusy indicates the global concurrent-turn cap is exhausted.
var ErrBusy = errors.New("too many concurrent turns")

// ErrEmptyMessage indicates a start request without a user message.
var ErrEmptyMessage = errors.New("message is required")

// Options configures a Coordinator.
type Options struct {
	// Timeout bounds a turn's execution; exceeding it fails the turn
	// with the "timeout" error code.
	Timeout time.Duration
	// CancelOnDisconnect joins the caller's context into turn execution,
	// so a streaming disconnect aborts the turn instead of only
	// detaching delivery.
	CancelOnDisconnect bool
	// MaxConcurrent caps in-flight turns across all threads.
	MaxConcurrent int
	// SubscriberBuffer and GracePeriod configure each turn's event bus.
	SubscriberBuffer int
	GracePeriod      time.Duration
}

// StartRequest asks for one new turn. An empty ThreadID creates a thread.
type StartRequest struct {
	ThreadID string
	Message  string
}

// Turn is a started turn's handle. Events yields the turn's event sequence
// ending in exactly one terminal event; Cancel detaches delivery without
// affecting execution.
type Turn struct {
	ID            string
	ThreadID      string
	ThreadCreated bool
	Events        <-chan *agent.Event
	Cancel        func()
}

// activeTurn tracks one running turn for conflict checks and attachment.
type activeTurn struct {
	turnID string
	bus    *bus.Bus
}

// Coordinator serializes turns per thread and drives the agent step for
// each one: lock, run, publish, commit (or discard), unlock. Turns on
// distinct threads proceed fully in parallel.
type Coordinator struct {
	store  store.Store
	step   agent.Step
	opts   Options
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*activeTurn // threadID -> running turn
}

// New creates a Coordinator. Pass nil logger for default.
func New(st store.Store, step agent.Step, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 64
	}
	return &Coordinator{
		store:  st,
		step:   step,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger: logger.With("component", "session"),
	}
}

// StartTurn begins one turn. It acquires the thread's turn lock (failing
// fast with ErrTurnInProgress when held), subscribes the caller to the
// turn's event bus, and runs the agent step in the background. The caller's
// ctx governs delivery only — unless CancelOnDisconnect is set, the turn
// runs to a commit or a discard regardless of disconnects.
func (c *Coordinator) StartTurn(ctx context.Context, req *StartRequest) (*Turn, error) {
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}

	if !c.sem.TryAcquire(1) {
		return nil, ErrBusy
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}

	thread, created, err := c.store.GetOrCreateThread(ctx, threadID)
	if err != nil {
		c.sem.Release(1)
		return nil, err
	}

	turnID := uuid.New().String()
	turnBus := bus.New(c.logger, bus.Options{
		SubscriberBuffer: c.opts.SubscriberBuffer,
		GracePeriod:      c.opts.GracePeriod,
	})

	// LOCKED: register the turn, or fail fast if one is running.
	c.mu.Lock()
	if _, running := c.active[threadID]; running {
		c.mu.Unlock()
		c.sem.Release(1)
		return nil, ErrTurnInProgress
	}
	if c.active == nil {
		c.active = make(map[string]*activeTurn)
	}
	c.active[threadID] = &activeTurn{turnID: turnID, bus: turnBus}
	c.mu.Unlock()

	events, cancel := turnBus.Subscribe(ctx)

	// Execution context: detached from the caller unless configured
	// otherwise, always bounded by the turn timeout.
	execCtx := context.WithoutCancel(ctx)
	if c.opts.CancelOnDisconnect {
		execCtx = ctx
	}
	execCtx, execCancel := context.WithTimeout(execCtx, c.opts.Timeout)

	c.logger.Info("turn started",
		"thread_id", threadID,
		"turn_id", turnID,
		"thread_created", created,
	)

	go c.runTurn(execCtx, execCancel, thread.ID, turnID, req.Message, turnBus)

	return &Turn{
		ID:            turnID,
		ThreadID:      threadID,
		ThreadCreated: created,
		Events:        events,
		Cancel:        cancel,
	}, nil
}

// Attach subscribes to a thread's in-progress turn (reconnect semantics).
// Returns ErrNoActiveTurn when the thread is idle.
func (c *Coordinator) Attach(ctx context.Context, threadID string) (<-chan *agent.Event, func(), error) {
	c.mu.Lock()
	at, ok := c.active[threadID]
	c.mu.Unlock()

	if !ok {
		return nil, nil, ErrNoActiveTurn
	}

	events, cancel := at.bus.Subscribe(ctx)
	return events, cancel, nil
}

// HasActiveTurn reports whether a turn is currently running on the thread.
func (c *Coordinator) HasActiveTurn(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[threadID]
	return ok
}

// runTurn drives RUNNING -> COMMITTING -> IDLE, or RUNNING -> FAILED ->
// IDLE. The terminal event is emitted exactly once, after the commit (so
// snapshot reads after done always include the turn) or after the discard.
func (c *Coordinator) runTurn(ctx context.Context, cancel context.CancelFunc, threadID, turnID, message string, turnBus *bus.Bus) {
	defer cancel()
	defer c.finishTurn(threadID, turnID, turnBus)

	emit := func(ctx context.Context, ev *agent.Event) error {
		return turnBus.Publish(ctx, ev)
	}

	fail := func(code, msg string) {
		c.logger.Warn("turn failed",
			"thread_id", threadID,
			"turn_id", turnID,
			"code", code,
			"error", msg,
		)
		// Grace-bounded: the bus never blocks forever on terminal delivery.
		if err := turnBus.Publish(context.Background(), agent.ErrorEvent(code, msg)); err != nil {
			c.logger.Error("failed to publish error event", "turn_id", turnID, "error", err)
		}
	}

	// RUNNING
	if err := turnBus.Publish(ctx, agent.StatusEvent("starting")); err != nil {
		fail(agent.CodeInternal, "turn aborted before start")
		return
	}
	if err := turnBus.Publish(ctx, agent.StatusEvent("thread:"+threadID)); err != nil {
		fail(agent.CodeInternal, "turn aborted before start")
		return
	}

	snapshot, err := c.store.ReadSnapshot(ctx, threadID)
	if err != nil {
		fail(agent.CodeInternal, "reading thread state: "+err.Error())
		return
	}

	result, err := c.step.Run(ctx, &agent.StepRequest{
		Snapshot: snapshot,
		Message:  message,
		Emit:     emit,
	})
	if err != nil {
		fail(stepErrorCode(ctx, err), stepErrorMessage(err))
		return
	}

	// COMMITTING: the user message and the step's delta land in one
	// transaction — a failed turn has no side effects at all.
	commit := &store.TurnCommit{
		ThreadID:  threadID,
		TurnID:    turnID,
		Messages:  append([]store.MessageDraft{{Role: store.RoleUser, Content: message}}, result.Messages...),
		Itinerary: result.Itinerary,
		Profile:   result.Profile,
	}
	if result.Usage != nil {
		usage := *result.Usage
		usage.ThreadID = threadID
		usage.TurnID = turnID
		commit.Usage = &usage
	}

	// Commit with a fresh context: a timed-out step already failed above,
	// and a completed step's commit should not be lost to a late deadline.
	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer commitCancel()
	if err := c.store.CommitTurn(commitCtx, commit); err != nil {
		fail(agent.CodeInternal, "committing turn: "+err.Error())
		return
	}

	fullResponse := ""
	for _, msg := range result.Messages {
		fullResponse += msg.Content
	}

	c.logger.Info("turn committed",
		"thread_id", threadID,
		"turn_id", turnID,
		"messages", len(commit.Messages),
	)

	if err := turnBus.Publish(context.Background(), agent.DoneEvent(fullResponse)); err != nil {
		c.logger.Error("failed to publish done event", "turn_id", turnID, "error", err)
	}
}

// finishTurn releases the thread's turn lock and the global slot. The bus
// is torn down here in case the turn never reached a terminal publish.
func (c *Coordinator) finishTurn(threadID, turnID string, turnBus *bus.Bus) {
	turnBus.Close()

	c.mu.Lock()
	if at, ok := c.active[threadID]; ok && at.turnID == turnID {
		delete(c.active, threadID)
	}
	c.mu.Unlock()

	c.sem.Release(1)

	c.logger.Debug("turn finished", "thread_id", threadID, "turn_id", turnID)
}

// stepErrorCode maps a step failure to its stable terminal error code.
func stepErrorCode(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return agent.CodeTimeout
	}
	var agentErr *agent.Error
	if errors.As(err, &agentErr) {
		return agentErr.Code
	}
	return agent.CodeAgentError
}

func stepErrorMessage(err error) string {
	var agentErr *agent.Error
	if errors.As(err, &agentErr) {
		return agentErr.Message
	}
	return err.Error()
}
