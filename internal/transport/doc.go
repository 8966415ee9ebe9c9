// Package transport talks to the mesh-stack command line interface.
//
// Ownership boundary:
// - byte stream to line assembly (Reader)
// - datagram versus command response classification
// - command execution with bounded waits (Console)
// - udp datagram line parsing and send command rendering
// - endpoint dialing (telnet over tcp, character devices)
package transport
