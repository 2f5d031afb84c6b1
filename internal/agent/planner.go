// ABOUTME: Builtin deterministic itinerary planner implementing the Step contract
// ABOUTME: Streams a scripted plan from the TOML knowledge base and proposes the state delta

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/2389/travel-brain/internal/store"
)

// Planner is the builtin Step implementation: a deterministic travel
// planner scripted from a destination knowledge base. It stands in for a
// real reasoning backend so the engine is runnable end to end.
type Planner struct {
	knowledge *Knowledge
	logger    *slog.Logger
	counter   tokenCounter
}

// NewPlanner creates a Planner over the given knowledge base.
// Pass nil logger for default.
func NewPlanner(knowledge *Knowledge, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		knowledge: knowledge,
		logger:    logger.With("component", "planner"),
	}
}

// Run produces a plan for the destination mentioned in the user message.
// It emits status/content events as it goes and returns the proposed delta:
// the agent message, an updated itinerary, and a profile update.
func (p *Planner) Run(ctx context.Context, req *StepRequest) (*StepResult, error) {
	if err := req.Emit(ctx, StatusEvent("planning")); err != nil {
		return nil, err
	}

	dest := p.knowledge.Match(req.Message)
	if dest == nil {
		return p.askForDestination(ctx, req)
	}

	p.logger.Debug("destination matched",
		"thread_id", req.Snapshot.ThreadID,
		"destination", dest.Name,
	)

	var full strings.Builder
	emit := func(text string) error {
		full.WriteString(text)
		return req.Emit(ctx, ContentEvent(text))
	}

	if err := emit(fmt.Sprintf("%s, %s: %s\n", dest.Name, dest.Country, dest.Summary)); err != nil {
		return nil, err
	}
	for i, day := range dest.Days {
		if err := emit(fmt.Sprintf("Day %d — %s: %s\n", i+1, day.Title, day.Detail)); err != nil {
			return nil, err
		}
	}
	if len(dest.Tips) > 0 {
		if err := emit("Tips: " + strings.Join(dest.Tips, " ") + "\n"); err != nil {
			return nil, err
		}
	}

	itinerary, err := p.buildItinerary(req.Snapshot, dest)
	if err != nil {
		return nil, &Error{Code: CodeAgentError, Message: err.Error()}
	}

	profile, err := p.updateProfile(req.Snapshot, dest)
	if err != nil {
		return nil, &Error{Code: CodeAgentError, Message: err.Error()}
	}

	return &StepResult{
		Messages:  []store.MessageDraft{{Role: store.RoleAgent, Content: full.String()}},
		Itinerary: itinerary,
		Profile:   profile,
		Usage:     p.estimateUsage(req, full.String()),
	}, nil
}

// askForDestination handles messages that name no known destination.
func (p *Planner) askForDestination(ctx context.Context, req *StepRequest) (*StepResult, error) {
	names := make([]string, len(p.knowledge.Destinations))
	for i, d := range p.knowledge.Destinations {
		names[i] = d.Name
	}
	reply := "I don't have a guide for that yet. I can plan trips to: " + strings.Join(names, ", ") + "."

	if err := req.Emit(ctx, ContentEvent(reply)); err != nil {
		return nil, err
	}

	return &StepResult{
		Messages: []store.MessageDraft{{Role: store.RoleAgent, Content: reply}},
		Usage:    p.estimateUsage(req, reply),
	}, nil
}

// plannedItinerary is the blob shape this planner writes. The engine treats
// it as opaque; only the planner and its clients interpret it.
type plannedItinerary struct {
	Destination string   `json:"destination"`
	Country     string   `json:"country"`
	Days        []Day    `json:"days"`
	Tips        []string `json:"tips,omitempty"`
}

func (p *Planner) buildItinerary(snap *store.Snapshot, dest *Destination) (*store.Itinerary, error) {
	data, err := json.Marshal(plannedItinerary{
		Destination: dest.Name,
		Country:     dest.Country,
		Days:        dest.Days,
		Tips:        dest.Tips,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding itinerary: %w", err)
	}

	version := 1
	if snap.Itinerary != nil {
		version = snap.Itinerary.Version + 1
	}
	return &store.Itinerary{Version: version, Data: data}, nil
}

// updateProfile merges planner fields into the existing profile blob,
// preserving keys written by anyone else.
func (p *Planner) updateProfile(snap *store.Snapshot, dest *Destination) (json.RawMessage, error) {
	profile := map[string]any{}
	if snap.Profile != nil {
		if err := json.Unmarshal(snap.Profile, &profile); err != nil {
			return nil, fmt.Errorf("decoding existing profile: %w", err)
		}
	}

	trips := 0
	if v, ok := profile["planned_trips"].(float64); ok {
		trips = int(v)
	}
	profile["last_destination"] = dest.Name
	profile["planned_trips"] = trips + 1

	data, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("encoding profile: %w", err)
	}
	return data, nil
}

func (p *Planner) estimateUsage(req *StepRequest, response string) *store.TokenUsage {
	var prompt strings.Builder
	for _, msg := range req.Snapshot.Messages {
		prompt.WriteString(msg.Content)
		prompt.WriteString("\n")
	}
	prompt.WriteString(req.Message)

	return &store.TokenUsage{
		InputTokens:  int64(p.counter.count(prompt.String())),
		OutputTokens: int64(p.counter.count(response)),
	}
}

// tokenCounter estimates token counts with tiktoken, falling back to a
// whitespace word count when the encoding is unavailable (offline hosts).
type tokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func (c *tokenCounter) count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}
