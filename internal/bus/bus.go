// ABOUTME: In-memory single-producer, multi-consumer event bus for one turn
// ABOUTME: Bounded per-subscriber buffers with producer backpressure and terminal replay

package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/travel-brain/internal/agent"
)

// ErrClosed is returned by Publish after the terminal event or Close.
var ErrClosed = errors.New("event bus closed")

// Options configures a Bus.
type Options struct {
	// SubscriberBuffer is each subscriber's channel capacity. When a
	// subscriber's buffer is full the producer suspends rather than drop.
	SubscriberBuffer int
	// GracePeriod bounds how long terminal delivery waits on a stuck
	// subscriber before the bus tears down anyway.
	GracePeriod time.Duration
}

// Bus carries one turn's ordered event sequence from a single producer to
// any number of subscribers. Publish is backpressured: correctness requires
// no event loss, so a full subscriber buffer suspends the producer instead
// of dropping (the terminal event is the one exception, bounded by the
// grace period).
//
// Publish and Close belong to the single producer goroutine; Subscribe and
// subscriber cancels are safe from anywhere.
type Bus struct {
	logger *slog.Logger
	opts   Options

	mu       sync.Mutex
	subs     map[string]*subscriber
	terminal *agent.Event
	closed   bool
}

type subscriber struct {
	ch       chan *agent.Event
	detached chan struct{}
	once     sync.Once
}

func (s *subscriber) detach() {
	s.once.Do(func() { close(s.detached) })
}

// New creates a Bus. Pass nil logger for default.
func New(logger *slog.Logger, opts Options) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Second
	}
	return &Bus{
		logger: logger.With("component", "bus"),
		opts:   opts,
		subs:   make(map[string]*subscriber),
	}
}

// Publish appends one event to the in-order outgoing sequence, delivering
// it to every current subscriber. Blocks while any subscriber's buffer is
// full until space frees, the subscriber detaches, or ctx ends. A terminal
// event finishes the bus: remaining subscriber channels are closed after
// delivery and later Publish calls return ErrClosed.
func (b *Bus) Publish(ctx context.Context, ev *agent.Event) error {
	b.mu.Lock()
	if b.closed || b.terminal != nil {
		b.mu.Unlock()
		return ErrClosed
	}
	if ev.Terminal() {
		// Recorded before delivery so subscribers arriving from here on
		// take the replay path and still observe the terminal event.
		b.terminal = ev
	}
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	// One deadline shared by all subscribers: teardown is bounded by a
	// single grace period, not one per stuck subscriber. A closed channel
	// rather than time.After so every select observes the expiry.
	var grace chan struct{}
	if ev.Terminal() {
		grace = make(chan struct{})
		timer := time.AfterFunc(b.opts.GracePeriod, func() { close(grace) })
		defer timer.Stop()
	}

	for _, sub := range targets {
		if ev.Terminal() {
			select {
			case sub.ch <- ev:
			case <-sub.detached:
			case <-grace:
				b.logger.Warn("terminal delivery timed out for subscriber", "event", ev.Type)
			}
			continue
		}

		select {
		case sub.ch <- ev:
		case <-sub.detached:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if ev.Terminal() {
		b.teardown()
	}
	return nil
}

// Subscribe registers a consumer. The returned channel yields events from
// the subscription point forward; if the turn has already finished it
// yields exactly the terminal event and closes (reconnect semantics). The
// cancel func detaches the subscriber; ctx cancellation does the same. A
// detached subscriber's channel is not closed — readers should select on
// their own ctx.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *agent.Event, func()) {
	b.mu.Lock()

	if b.terminal != nil {
		terminal := b.terminal
		b.mu.Unlock()
		ch := make(chan *agent.Event, 1)
		ch <- terminal
		close(ch)
		return ch, func() {}
	}

	if b.closed {
		b.mu.Unlock()
		ch := make(chan *agent.Event)
		close(ch)
		return ch, func() {}
	}

	id := uuid.New().String()
	sub := &subscriber{
		ch:       make(chan *agent.Event, b.opts.SubscriberBuffer),
		detached: make(chan struct{}),
	}
	b.subs[id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", id)

	// Auto-detach on context cancellation
	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(id)
		case <-sub.detached:
		}
	}()

	return sub.ch, func() { b.unsubscribe(id) }
}

// unsubscribe detaches a subscriber so the producer skips it. The channel
// stays open; only the producer side ever closes channels.
func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		sub.detach()
		b.logger.Debug("subscriber removed", "sub_id", id)
	}
}

// Close tears the bus down without a terminal event. Producer-side only;
// must not race a concurrent Publish.
func (b *Bus) Close() {
	b.teardown()
}

// Finished reports whether the turn's terminal event has been published.
func (b *Bus) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminal != nil
}

func (b *Bus) teardown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.detach()
		close(sub.ch)
	}
}
