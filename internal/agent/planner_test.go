// ABOUTME: Tests for the builtin planner step and knowledge base loading
// ABOUTME: Covers destination matching, delta construction, and event emission

package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/travel-brain/internal/store"
)

// collectEmit returns an Emit that appends events to the returned slice.
func collectEmit(events *[]*Event) Emit {
	return func(_ context.Context, ev *Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func testKnowledge(t *testing.T) *Knowledge {
	t.Helper()
	k, err := LoadKnowledge("")
	require.NoError(t, err)
	return k
}

func emptySnapshot(threadID string) *store.Snapshot {
	return &store.Snapshot{ThreadID: threadID}
}

func TestLoadKnowledge_EmbeddedDefault(t *testing.T) {
	k := testKnowledge(t)
	require.NotEmpty(t, k.Destinations)

	kyoto := k.Match("plan a trip to kyoto please")
	require.NotNil(t, kyoto)
	assert.Equal(t, "Kyoto", kyoto.Name)
	assert.NotEmpty(t, kyoto.Days)
}

func TestLoadKnowledge_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.toml")
	content := `
[[destination]]
name = "Oslo"
country = "Norway"
summary = "Fjords and museums."

[[destination.day]]
title = "Harbor"
detail = "Opera house roof walk."
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	k, err := LoadKnowledge(path)
	require.NoError(t, err)
	require.Len(t, k.Destinations, 1)
	assert.Equal(t, "Oslo", k.Destinations[0].Name)
}

func TestLoadKnowledge_RejectsEmptyDestinations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	_, err := LoadKnowledge(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no destinations")
}

func TestKnowledge_MatchAlias(t *testing.T) {
	k := testKnowledge(t)

	dest := k.Match("I want to visit CDMX in spring")
	require.NotNil(t, dest)
	assert.Equal(t, "Mexico City", dest.Name)
}

func TestKnowledge_MatchNothing(t *testing.T) {
	k := testKnowledge(t)
	assert.Nil(t, k.Match("somewhere warm, surprise me"))
}

func TestPlanner_KnownDestination(t *testing.T) {
	p := NewPlanner(testKnowledge(t), nil)

	var events []*Event
	result, err := p.Run(t.Context(), &StepRequest{
		Snapshot: emptySnapshot("t1"),
		Message:  "Plan a trip to Kyoto",
		Emit:     collectEmit(&events),
	})
	require.NoError(t, err)

	// First event is the planning status, rest are content; no terminals.
	require.NotEmpty(t, events)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, "planning", events[0].Data)
	for _, ev := range events[1:] {
		assert.Equal(t, EventContent, ev.Type)
		assert.False(t, ev.Terminal())
	}

	require.Len(t, result.Messages, 1)
	assert.Equal(t, store.RoleAgent, result.Messages[0].Role)
	assert.Contains(t, result.Messages[0].Content, "Kyoto")
	assert.Contains(t, result.Messages[0].Content, "Day 1")

	require.NotNil(t, result.Itinerary)
	assert.Equal(t, 1, result.Itinerary.Version)

	var plan plannedItinerary
	require.NoError(t, json.Unmarshal(result.Itinerary.Data, &plan))
	assert.Equal(t, "Kyoto", plan.Destination)
	assert.NotEmpty(t, plan.Days)

	var profile map[string]any
	require.NoError(t, json.Unmarshal(result.Profile, &profile))
	assert.Equal(t, "Kyoto", profile["last_destination"])
	assert.Equal(t, float64(1), profile["planned_trips"])

	require.NotNil(t, result.Usage)
	assert.Positive(t, result.Usage.InputTokens)
	assert.Positive(t, result.Usage.OutputTokens)
}

func TestPlanner_IncrementsItineraryVersionAndTripCount(t *testing.T) {
	p := NewPlanner(testKnowledge(t), nil)

	snap := &store.Snapshot{
		ThreadID:  "t1",
		Itinerary: &store.Itinerary{Version: 3, Data: json.RawMessage(`{"destination":"Lisbon"}`)},
		Profile:   json.RawMessage(`{"planned_trips": 2, "home_airport": "SFO"}`),
	}

	var events []*Event
	result, err := p.Run(t.Context(), &StepRequest{
		Snapshot: snap,
		Message:  "actually let's do Kyoto instead",
		Emit:     collectEmit(&events),
	})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Itinerary.Version)

	var profile map[string]any
	require.NoError(t, json.Unmarshal(result.Profile, &profile))
	assert.Equal(t, float64(3), profile["planned_trips"])
	// Keys written by others survive the merge
	assert.Equal(t, "SFO", profile["home_airport"])
}

func TestPlanner_UnknownDestination(t *testing.T) {
	p := NewPlanner(testKnowledge(t), nil)

	var events []*Event
	result, err := p.Run(t.Context(), &StepRequest{
		Snapshot: emptySnapshot("t1"),
		Message:  "plan something fun",
		Emit:     collectEmit(&events),
	})
	require.NoError(t, err)

	require.Len(t, result.Messages, 1)
	assert.Contains(t, result.Messages[0].Content, "Kyoto")
	assert.Nil(t, result.Itinerary, "no itinerary change without a destination")
	assert.Nil(t, result.Profile)
}

func TestPlanner_EmitFailureAborts(t *testing.T) {
	p := NewPlanner(testKnowledge(t), nil)

	failing := func(_ context.Context, _ *Event) error {
		return context.Canceled
	}

	_, err := p.Run(t.Context(), &StepRequest{
		Snapshot: emptySnapshot("t1"),
		Message:  "Plan a trip to Kyoto",
		Emit:     failing,
	})
	assert.ErrorIs(t, err, context.Canceled)
}
