// Package daemon runs a lightmesh node as a long-lived process.
//
// The Service dials the mesh-stack CLI, opens storage behind a circuit
// breaker, and ticks the node from a single goroutine. Admin handlers and
// embedding applications reach the node through Do, which queues a function
// onto that goroutine, and read state through Snapshot.
package daemon
