// ABOUTME: HTTP API handlers for streaming turns and reading thread state
// ABOUTME: POST /agent/stream drives a turn over SSE; GET endpoints read snapshots

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/travel-brain/internal/agent"
	"github.com/2389/travel-brain/internal/session"
	"github.com/2389/travel-brain/internal/store"
)

// StreamRequest is the JSON request body for POST /agent/stream.
// "input" is accepted as an alias for "message".
type StreamRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
	Input    string `json:"input,omitempty"`
}

// StreamFrame is the JSON payload of one SSE data frame.
type StreamFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Code string `json:"code,omitempty"`
}

// MessagePayload is one committed message in a thread state response.
type MessagePayload struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Seq       int64  `json:"seq"`
	CreatedAt string `json:"created_at"`
}

// ThreadState is the committed state of a thread.
type ThreadState struct {
	Messages    []MessagePayload `json:"messages"`
	Itinerary   *store.Itinerary `json:"itinerary"`
	UserProfile json.RawMessage  `json:"user_profile"`
}

// ThreadStateResponse is the JSON response for GET /agent/state/{thread_id}.
type ThreadStateResponse struct {
	ThreadID string      `json:"thread_id"`
	TurnSeq  int64       `json:"turn_seq"`
	State    ThreadState `json:"state"`
}

// ThreadInfo is one entry in the GET /agent/threads response.
type ThreadInfo struct {
	ID        string `json:"id"`
	TurnSeq   int64  `json:"turn_seq"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ListThreadsResponse is the JSON response for GET /agent/threads.
type ListThreadsResponse struct {
	Threads []ThreadInfo `json:"threads"`
}

// handleHealth handles GET /health. No store dependency.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStream handles POST /agent/stream requests.
// It starts one turn and streams its events as SSE. Turn admission errors
// (conflict, capacity, validation) are reported as JSON before any SSE
// bytes are written, so clients can branch on the status code.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseStreamRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check streaming support before starting the turn (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	turn, err := g.coordinator.StartTurn(r.Context(), &session.StartRequest{
		ThreadID: req.ThreadID,
		Message:  req.Message,
	})
	if err != nil {
		g.writeTurnError(w, err)
		return
	}
	defer turn.Cancel()

	setSSEHeaders(w)
	flusher.Flush()

	g.streamEvents(r, w, flusher, turn.Events)
}

// handleLive handles GET /agent/stream/{thread_id}/live requests.
// It attaches to an in-progress turn's event stream (reconnect semantics).
func (g *Gateway) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	threadID, ok := extractPathID(r.URL.Path, "/agent/stream/", "/live")
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, cancel, err := g.coordinator.Attach(r.Context(), threadID)
	if errors.Is(err, session.ErrNoActiveTurn) {
		g.sendJSONError(w, http.StatusNotFound, "no active turn for thread")
		return
	}
	if err != nil {
		g.logger.Error("failed to attach to turn", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer cancel()

	setSSEHeaders(w)
	flusher.Flush()

	g.streamEvents(r, w, flusher, events)
}

// streamEvents writes bus events as SSE frames until the terminal event,
// channel close, or client disconnect. A detached subscriber's channel is
// never closed by the producer, so the request context is part of the loop.
func (g *Gateway) streamEvents(r *http.Request, w http.ResponseWriter, flusher http.Flusher, events <-chan *agent.Event) {
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, ev)
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// handleState handles GET /agent/state/{thread_id} requests.
// Returns the thread's last committed snapshot; in-progress turns are
// invisible here until they commit.
func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	threadID := strings.TrimPrefix(r.URL.Path, "/agent/state/")
	if threadID == "" || strings.Contains(threadID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "thread_id is required")
		return
	}

	snapshot, err := g.store.ReadSnapshot(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to read snapshot", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ThreadStateResponse{
		ThreadID: snapshot.ThreadID,
		TurnSeq:  snapshot.TurnSeq,
		State: ThreadState{
			Messages:    make([]MessagePayload, len(snapshot.Messages)),
			Itinerary:   snapshot.Itinerary,
			UserProfile: snapshot.Profile,
		},
	}
	for i, msg := range snapshot.Messages {
		response.State.Messages[i] = MessagePayload{
			Role:      msg.Role,
			Content:   msg.Content,
			Seq:       msg.Seq,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleListThreads handles GET /agent/threads requests.
// Returns recent threads, optionally limited by ?limit=N (default 50).
func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > 1000 {
			limit = 1000
		}
	}

	threads, err := g.store.ListThreads(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list threads", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ListThreadsResponse{
		Threads: make([]ThreadInfo, len(threads)),
	}
	for i, th := range threads {
		response.Threads[i] = ThreadInfo{
			ID:        th.ID,
			TurnSeq:   th.TurnSeq,
			CreatedAt: th.CreatedAt.Format(time.RFC3339),
			UpdatedAt: th.UpdatedAt.Format(time.RFC3339),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleThreadRoutes routes GET /agent/threads/{thread_id}/... requests.
func (g *Gateway) handleThreadRoutes(w http.ResponseWriter, r *http.Request) {
	if threadID, ok := extractPathID(r.URL.Path, "/agent/threads/", "/transcript"); ok {
		g.handleTranscript(w, r, threadID)
		return
	}
	g.sendJSONError(w, http.StatusNotFound, "not found")
}

// writeTurnError maps turn admission failures onto HTTP status codes.
func (g *Gateway) writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, session.ErrTurnInProgress):
		g.sendJSONError(w, http.StatusConflict, "turn already in progress for thread")
	case errors.Is(err, session.ErrBusy):
		g.sendJSONError(w, http.StatusServiceUnavailable, "too many concurrent turns")
	default:
		g.logger.Error("failed to start turn", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// setSSEHeaders sets the response headers for an SSE stream.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes a single event as a data-only SSE frame:
// data: {"type": ..., "data": ..., "code": ...}\n\n
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, ev *agent.Event) {
	frame := StreamFrame{
		Type: string(ev.Type),
		Data: ev.Data,
		Code: ev.Code,
	}
	dataJSON, err := json.Marshal(frame)
	if err != nil {
		g.logger.Error("failed to marshal SSE frame", "error", err)
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseStreamRequest parses and validates a StreamRequest from the given
// reader. "input" is folded into "message" for original-client compatibility.
func parseStreamRequest(r io.Reader) (*StreamRequest, error) {
	var req StreamRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.Message == "" {
		req.Message = req.Input
	}
	if req.Message == "" {
		return nil, errors.New("message is required")
	}

	return &req, nil
}

// extractPathID pulls the id segment out of paths like <prefix>{id}<suffix>.
func extractPathID(path, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
