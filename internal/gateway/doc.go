// Package gateway exposes the travel-brain HTTP surface: the SSE turn
// stream, thread state and transcript reads, and health.
//
// POST /agent/stream starts one turn and streams its events as data-only
// SSE frames; admission failures (turn conflict, capacity, validation) are
// returned as JSON status codes before any SSE bytes, so clients can
// branch cleanly. GET /agent/state/{id} reads last-committed snapshots and
// never reflects an in-progress turn.
package gateway
