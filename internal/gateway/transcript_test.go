// ABOUTME: Tests for the thread transcript HTML endpoint
// ABOUTME: Covers rendering of messages and itinerary plus unknown-thread errors

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/travel-brain/internal/store"
)

func seedThread(t *testing.T, g *Gateway, threadID string) {
	t.Helper()
	ctx := t.Context()

	_, _, err := g.store.GetOrCreateThread(ctx, threadID)
	require.NoError(t, err)

	require.NoError(t, g.store.CommitTurn(ctx, &store.TurnCommit{
		ThreadID: threadID,
		TurnID:   "turn-1",
		Messages: []store.MessageDraft{
			{Role: store.RoleUser, Content: "Plan a trip to Kyoto"},
			{Role: store.RoleAgent, Content: "Day 1 — Arrival: settle in.\nDay 2 — Temples."},
		},
		Itinerary: &store.Itinerary{Version: 1, Data: json.RawMessage(`{"destination":"Kyoto"}`)},
	}))
}

func TestHandleTranscript_RendersHTML(t *testing.T) {
	g := newTestGateway(t)
	seedThread(t, g, "trip-1")

	rec := httptest.NewRecorder()
	g.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agent/threads/trip-1/transcript", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Thread trip-1</h1>")
	assert.Contains(t, body, "Traveler")
	assert.Contains(t, body, "Plan a trip to Kyoto")
	assert.Contains(t, body, "Itinerary (version 1)")

	// Second read is served from the render cache and stays identical.
	again := httptest.NewRecorder()
	g.routes().ServeHTTP(again, httptest.NewRequest(http.MethodGet, "/agent/threads/trip-1/transcript", nil))
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, body, again.Body.String())
}

func TestHandleTranscript_UnknownThread(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agent/threads/missing/transcript", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleThreadRoutes_UnknownSuffix(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agent/threads/trip-1/bogus", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
