// Package node runs the leader/joiner connection state machine.
//
// Ownership boundary:
// - state transitions and state-local deadlines
// - mesh-stack command sequences per state
// - inbound datagram dispatch (pairing, reconnect, heartbeat, application)
// - the application surface: reliable and unreliable sends, peers, readiness
//
// A Node is advanced by Tick(now) from one goroutine and is not safe for
// concurrent use. Every timer derives from the state entry time and the now
// passed to Tick.
package node
