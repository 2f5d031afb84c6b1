// ABOUTME: Store interface and data types for travel-brain persistence
// ABOUTME: Defines Thread, Message, Snapshot structs and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create a thread that already exists
var ErrDuplicateThread = errors.New("thread already exists")

// Message roles. A thread's transcript is a sequence of these.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// Thread represents a conversation thread. Messages, itinerary, and profile
// hang off the thread and are only mutated through CommitTurn.
type Thread struct {
	ID        string
	TurnSeq   int64 // number of committed turns
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message represents a single committed message within a thread.
// Seq is strictly increasing and gap-free within its thread.
type Message struct {
	ID        string
	ThreadID  string
	Seq       int64
	Role      string // "user", "agent", "system"
	Content   string
	CreatedAt time.Time
}

// MessageDraft is a message proposed by a turn before the store assigns
// its identity and sequence number.
type MessageDraft struct {
	Role    string
	Content string
}

// Itinerary is a versioned travel plan blob. The store never interprets
// Data beyond checking it is valid JSON at the API boundary.
type Itinerary struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// TokenUsage records estimated token consumption for one turn.
type TokenUsage struct {
	ID           string
	ThreadID     string
	TurnID       string
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time
}

// Snapshot is an immutable copy of a thread's committed state. Readers
// never observe a half-committed turn: CommitTurn is a single transaction.
type Snapshot struct {
	ThreadID  string
	TurnSeq   int64
	Messages  []*Message
	Itinerary *Itinerary      // nil until a turn commits one
	Profile   json.RawMessage // nil until a turn commits one
}

// TurnCommit is the atomic result of one turn. Messages are appended in
// order with store-assigned contiguous sequence numbers; Itinerary and
// Profile replace the thread's blobs when non-nil.
type TurnCommit struct {
	ThreadID  string
	TurnID    string
	Messages  []MessageDraft
	Itinerary *Itinerary
	Profile   json.RawMessage
	Usage     *TokenUsage
}

// Store defines the interface for thread and turn persistence
type Store interface {
	// Threads
	GetOrCreateThread(ctx context.Context, id string) (thread *Thread, created bool, err error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, limit int) ([]*Thread, error)

	// ReadSnapshot returns the last committed state of a thread.
	// Returns ErrNotFound for unknown ids. Never blocks on in-progress turns.
	ReadSnapshot(ctx context.Context, id string) (*Snapshot, error)

	// CommitTurn atomically appends a turn's messages and optionally
	// replaces the itinerary/profile blobs. Callable only by the holder
	// of the thread's turn lock; the store linearizes commits per thread.
	CommitTurn(ctx context.Context, commit *TurnCommit) error

	// Usage
	GetThreadUsage(ctx context.Context, threadID string) ([]*TokenUsage, error)

	// Close releases any resources held by the store
	Close() error
}
