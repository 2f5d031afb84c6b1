// Package bus provides the per-turn event channel between the session
// coordinator and stream consumers.
//
// Each turn gets its own Bus: a single producer (the coordinator) publishes
// the turn's ordered event sequence, and any number of subscribers (the SSE
// encoder, live attachers) consume it. Delivery is backpressured — a full
// subscriber buffer suspends the producer rather than dropping events —
// because consumers must observe every event in emission order.
//
// The terminal event (done or error) finishes the bus. It is delivered to
// every current subscriber (bounded by the grace period for stuck readers),
// replayed to subscribers that join afterwards, and followed by channel
// close. This replay is what makes reconnecting clients always observe a
// turn's outcome.
package bus
