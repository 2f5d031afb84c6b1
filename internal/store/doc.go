// Package store provides persistent storage for travel-brain using SQLite.
//
// # Data Models
//
//   - Thread: a conversation with a turn counter and optional itinerary and
//     profile blobs
//   - Message: one committed message, with a strictly increasing, gap-free
//     sequence number within its thread
//   - Itinerary: a versioned JSON blob the core never interprets
//   - TokenUsage: estimated token consumption per committed turn
//
// # Commit Semantics
//
// All mutation flows through CommitTurn, which applies a whole turn in one
// SQLite transaction: message appends, blob replacement, turn counter, and
// usage. A failed turn therefore leaves no trace, and ReadSnapshot always
// observes the last committed state — never a half-applied turn.
//
// The session coordinator holds a per-thread turn lock while committing, so
// there is a single writer per thread; SQLite's WAL mode keeps concurrent
// snapshot reads cheap.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateThread: thread already exists
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") for tests; the schema is created
// automatically.
package store
