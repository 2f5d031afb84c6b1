// Package session coordinates streaming turns over conversation threads.
//
// # Turn Lifecycle
//
// A turn moves through IDLE -> LOCKED -> RUNNING -> COMMITTING -> IDLE on
// success, or RUNNING -> FAILED -> IDLE on error:
//
//   - LOCKED: the thread's turn lock is held. A second StartTurn on the
//     same thread fails fast with ErrTurnInProgress; it never queues.
//   - RUNNING: the agent step runs with the thread's committed snapshot
//     plus the new user message, streaming events through the turn's bus.
//   - COMMITTING: the user message and the step's delta (messages,
//     itinerary, profile, usage) land in one store transaction, then the
//     done event is emitted.
//   - FAILED: exactly one error event with a stable code (agent_error,
//     timeout, internal) ends the stream; the store is untouched.
//
// Locks are per thread, so turns on distinct threads run fully in
// parallel; a weighted semaphore caps total in-flight turns (ErrBusy).
//
// # Disconnects
//
// By default a streaming client's disconnect detaches delivery only: the
// turn runs to completion and commits or discards, so no partial,
// unobservable state can accumulate. Options.CancelOnDisconnect flips this
// to aborting the turn. Attach lets a reconnecting client join the live
// turn; a turn that already finished replays its terminal event.
package session
