// Package quince implements a QUIC-inspired reliable, multi-stream,
// encrypted transport layered over UDP.
//
// A Connection multiplexes independent application Streams; the transport
// guarantees in-order per-stream delivery, detects and recovers packet
// loss via selective acknowledgement, paces sends under an AIMD congestion
// controller, authenticates and encrypts every datagram, and tolerates the
// peer's address changing mid-connection.
//
// The engine package is the single owner of a connection's state; callers
// interact with the types in this package (Connection, Stream) which are
// thin, concurrency-safe handles onto the engine's actor.
package quince
