// ABOUTME: Step is the external agent collaborator contract invoked once per turn
// ABOUTME: Given committed state plus a user message it streams events and proposes a delta

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/travel-brain/internal/store"
)

// Emit publishes one incremental event to the turn's stream. It may block
// for backpressure; the returned error means the turn context ended and the
// step should abort.
type Emit func(ctx context.Context, ev *Event) error

// StepRequest carries everything a Step needs for one turn.
type StepRequest struct {
	// Snapshot is the thread's committed state before this turn.
	Snapshot *store.Snapshot
	// Message is the new user message that started the turn.
	Message string
	// Emit streams incremental status/content events. Steps must not emit
	// terminal events; the coordinator owns done/error.
	Emit Emit
}

// StepResult is the proposed state delta of a successful turn. The
// coordinator commits it atomically; a failed turn commits nothing.
type StepResult struct {
	// Messages are the agent/system messages produced by the step, in order.
	Messages []store.MessageDraft
	// Itinerary replaces the thread's itinerary when non-nil.
	Itinerary *store.Itinerary
	// Profile replaces the thread's user profile when non-nil.
	Profile json.RawMessage
	// Usage is the step's token usage estimate, recorded at commit.
	Usage *store.TokenUsage
}

// Step is the external reasoning collaborator, invoked once per turn. The
// engine treats it as opaque, possibly slow, and possibly failing: it owns
// none of the step's internals and discards its output on failure.
type Step interface {
	Run(ctx context.Context, req *StepRequest) (*StepResult, error)
}

// Error is a step failure with a stable code for the terminal error event.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent step failed (%s): %s", e.Code, e.Message)
}
