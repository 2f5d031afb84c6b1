// ABOUTME: Transcript rendering for GET /agent/threads/{id}/transcript
// ABOUTME: Builds a markdown transcript from a snapshot and converts it to HTML

package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/travel-brain/internal/store"
)

const transcriptShell = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Thread %s</title></head>
<body>
%s</body>
</html>
`

// handleTranscript renders a thread's committed conversation as HTML.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
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

	// A committed turn bumps TurnSeq, so the cache key changes with content.
	cacheKey := fmt.Sprintf("%s@%d", snapshot.ThreadID, snapshot.TurnSeq)
	if page, ok := g.transcripts.Get(cacheKey); ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, page)
		return
	}

	md := transcriptMarkdown(snapshot)

	// Convert markdown to HTML
	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &htmlBuf); err != nil {
		g.logger.Error("failed to convert markdown", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to render transcript")
		return
	}

	page := fmt.Sprintf(transcriptShell, snapshot.ThreadID, htmlBuf.String())
	g.transcripts.Put(cacheKey, page)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, page)
}

// transcriptMarkdown builds the markdown source for a thread transcript.
func transcriptMarkdown(snapshot *store.Snapshot) string {
	var md strings.Builder

	fmt.Fprintf(&md, "# Thread %s\n\n", snapshot.ThreadID)
	fmt.Fprintf(&md, "%d committed turn(s), %d message(s)\n\n", snapshot.TurnSeq, len(snapshot.Messages))

	for _, msg := range snapshot.Messages {
		fmt.Fprintf(&md, "**%s** (%s):\n\n", roleLabel(msg.Role), msg.CreatedAt.Format("2006-01-02 15:04:05"))
		// Indent message bodies so multi-line content stays inside one block.
		for _, line := range strings.Split(msg.Content, "\n") {
			fmt.Fprintf(&md, "> %s\n", line)
		}
		md.WriteString("\n")
	}

	if snapshot.Itinerary != nil {
		fmt.Fprintf(&md, "## Itinerary (version %d)\n\n", snapshot.Itinerary.Version)
		fmt.Fprintf(&md, "```json\n%s\n```\n", string(snapshot.Itinerary.Data))
	}

	return md.String()
}

// roleLabel maps a stored role onto its transcript display name.
func roleLabel(role string) string {
	switch role {
	case store.RoleUser:
		return "Traveler"
	case store.RoleAgent:
		return "Agent"
	case store.RoleSystem:
		return "System"
	default:
		return role
	}
}
