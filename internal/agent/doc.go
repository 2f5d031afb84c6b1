// Package agent defines the stream event vocabulary and the Step contract
// that the session engine invokes once per turn.
//
// # Events
//
// An Event is one unit of incremental turn output: a status phase label,
// a content fragment, or one of the two terminal markers (done, error).
// Steps emit only status/content through their Emit callback; the session
// coordinator owns terminal events and guarantees exactly one per turn.
//
// # Steps
//
// Step is the external reasoning collaborator. It receives the thread's
// committed Snapshot plus the new user message, streams incremental events,
// and returns a StepResult delta (messages, itinerary, profile, usage) that
// the coordinator commits atomically. Step errors carry stable codes via
// the Error type.
//
// # Builtin Planner
//
// Planner is a deterministic Step scripted from a TOML destination
// knowledge base (embedded default, overridable via config). It exists so
// the engine runs and tests end to end without a model backend, and doubles
// as the reference for writing real Step implementations.
package agent
