// Package transport implements the UDP collaborator contract: a datagram
// port the engine binds, sends through, and receives from on a separate
// consumer goroutine that posts decoded datagrams back into the engine's
// own queue, never touching engine state directly.
package transport

import (
	"fmt"
	"net"
)

// Datagram is one received UDP payload and its source address.
type Datagram struct {
	Payload []byte
	Source  net.Addr
}

// Conn is the UDP collaborator contract.
type Conn interface {
	SendTo(addr net.Addr, payload []byte) error
	Recv() (Datagram, error)
	Close() error
	SetRecvBuffer(size int) error
	BoundPort() (int, bool)
}

// BindError wraps a failure to bind the local UDP socket.
type BindError struct {
	Err error
}

func (e *BindError) Error() string { return fmt.Sprintf("transport: bind failed: %v", e.Err) }

// UDPConn is the default Conn backed by net.UDPConn.
type UDPConn struct {
	pc *net.UDPConn
}

// Bind opens a local UDP socket on host:port ("" / 0 for any/ephemeral).
func Bind(host string, port int) (*UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	pc, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, &BindError{Err: err}
	}
	return &UDPConn{pc: pc}, nil
}

// SendTo writes payload to addr. This is non-blocking from the caller's
// perspective: a UDP write never blocks on the peer.
func (c *UDPConn) SendTo(addr net.Addr, payload []byte) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("transport: send_to: not a UDP address: %v", addr)
	}
	_, err := c.pc.WriteToUDP(payload, udpAddr)
	return err
}

// Recv blocks for the next datagram. Intended to run on its own consumer
// goroutine, feeding decoded results into the engine's queue.
func (c *UDPConn) Recv() (Datagram, error) {
	buf := make([]byte, 65535)
	n, addr, err := c.pc.ReadFromUDP(buf)
	if err != nil {
		return Datagram{}, err
	}
	return Datagram{Payload: buf[:n], Source: addr}, nil
}

// Close releases the socket.
func (c *UDPConn) Close() error { return c.pc.Close() }

// SetRecvBuffer sets the OS receive buffer size.
func (c *UDPConn) SetRecvBuffer(size int) error { return c.pc.SetReadBuffer(size) }

// BoundPort returns the locally bound port, if the socket is open.
func (c *UDPConn) BoundPort() (int, bool) {
	addr, ok := c.pc.LocalAddr().(*net.UDPAddr)
	if !ok {
		return 0, false
	}
	return addr.Port, true
}
