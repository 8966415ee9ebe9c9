// Package liveness tracks heartbeat silence on both sides of a pairing.
//
// Ownership boundary:
// - leader roster: last heartbeat per joiner address, rejoin detection, sweeps
// - joiner leader watch: heartbeat cadence and echo silence
//
// Both types take the current time from the caller and hold no locks.
package liveness
