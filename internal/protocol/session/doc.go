// Package session owns reliable delivery over the lossy mesh datagram path.
//
// Ownership boundary:
// - message id allocation
// - pending delivery table with a capacity bound
// - retry schedule, exhaustion, and acknowledgment correlation
//
// An Engine is driven from a single tick goroutine and is not safe for
// concurrent use.
package session
