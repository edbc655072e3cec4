package quince

import (
	"fmt"
	"net"

	"github.com/quince-transport/quince/aead"
	"github.com/quince-transport/quince/config"
	"github.com/quince-transport/quince/engine"
	"github.com/quince-transport/quince/streammux"
	"github.com/quince-transport/quince/transport"
)

// Connection is the public handle onto a connection engine
// (connect(host, port, security) -> connection). It is a thin,
// concurrency-safe wrapper: all of its methods simply forward to the
// owning engine.Connection actor.
type Connection struct {
	eng *engine.Connection
}

// Connect binds an ephemeral local UDP socket, dials host:port, and
// begins the handshake. aeadImpl selects the security
// implementation the public API's "security" parameter refers to; pass
// nil for the default chacha20poly1305 implementation.
func Connect(cfg *config.Config, host string, port int, aeadImpl aead.AEAD) (*Connection, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	udp, err := transport.Bind("", 0)
	if err != nil {
		return nil, err
	}
	peerAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		udp.Close()
		return nil, fmt.Errorf("quince: resolve %s:%d: %w", host, port, err)
	}

	eng, err := engine.Dial(cfg, udp, peerAddr, aeadImpl)
	if err != nil {
		udp.Close()
		return nil, err
	}
	return &Connection{eng: eng}, nil
}

// OpenStream allocates a new stream, up to the configured concurrent
// cap.
func (c *Connection) OpenStream() (*Stream, error) {
	id, err := c.eng.OpenStream()
	if err != nil {
		return nil, err
	}
	// The delivery buffer is fetched and cached once, here, rather than
	// looked up again on every Receive call: once the stream's FSM
	// reaches closed, the manager drops its map entry (the buffer is
	// destroyed with its stream, per the ownership model), which would
	// otherwise strand any payloads delivered but not yet drained.
	buf, _ := c.eng.Buffer(id)
	return &Stream{id: id, conn: c, buf: buf}, nil
}

// Close performs a graceful shutdown: the connection drains in-flight
// traffic before releasing resources. Idempotent.
func (c *Connection) Close() error {
	return c.eng.Close()
}

// CloseNow performs an abrupt shutdown, skipping the drain timer.
func (c *Connection) CloseNow() {
	c.eng.CloseNow()
}

// Stats returns a snapshot of the connection's current statistics.
func (c *Connection) Stats() engine.Stats {
	return c.eng.Stats()
}

// Stream is the public handle onto one multiplexed application stream
// (stream.send(value), stream.receive(type), stream.close()).
type Stream struct {
	id   uint32
	conn *Connection
	buf  *streammux.DeliveryBuffer
}

// ID returns the stream's 32-bit identifier.
func (s *Stream) ID() uint32 { return s.id }

// Send encodes value with the connection's application codec and hands
// the resulting bytes to the stream's outbound path. It returns once the
// engine has sent the frame or queued it behind the congestion window; it
// does not wait for a queued frame to go out.
func (s *Stream) Send(value interface{}) error {
	payload, err := s.conn.eng.Codec().Encode(value)
	if err != nil {
		return err
	}
	return s.conn.eng.Send(s.id, payload)
}

// Receive blocks until the next delivered value arrives, decodes it into
// out (which must be a pointer), and returns (true, nil). Once the
// stream has terminated and every already-delivered item has been
// drained, it returns (false, nil); calling Receive on a Stream handle
// that was never backed by a live delivery buffer returns an
// *engine.ClosedError (receive() after close either yields
// connection_closed or terminates the sequence — both are implemented
// here, distinguished by whether a buffer was ever obtained). The buffer
// reference is cached at stream-open time so that a stream closing out
// from under a slow consumer still lets every already-delivered payload
// drain before the sequence reports termination.
func (s *Stream) Receive(out interface{}) (bool, error) {
	if s.buf == nil {
		return false, &engine.ClosedError{}
	}
	payload, ok := s.buf.Next()
	if !ok {
		return false, nil
	}
	if err := s.conn.eng.Codec().Decode(payload, out); err != nil {
		return true, err
	}
	return true, nil
}

// Close half-closes the stream: no further Send calls are accepted, but
// already-delivered and in-flight data for the peer's direction is
// unaffected (open -> halfClosedLocal).
func (s *Stream) Close() {
	s.conn.eng.CloseStream(s.id)
}

// Reset abortively closes the stream: both sides discard their state for
// the id immediately, with no half-close handshake. Data not yet drained
// by the peer may be lost.
func (s *Stream) Reset() {
	s.conn.eng.ResetStream(s.id)
}
