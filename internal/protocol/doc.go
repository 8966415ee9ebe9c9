// Package protocol owns the mesh datagram wire contract.
//
// Ownership boundary:
// - ack and message type enumerations
// - hex text encoding used by the mesh-stack udp command
// - message id presence rules
//
// Byte layout lives in protocol/frame; reliable delivery lives in
// protocol/session.
package protocol
