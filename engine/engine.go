// Package engine implements the connection engine: the single actor that
// owns one connection's reliability, congestion, security, migration, and
// stream-multiplexing state, and drives the connection FSM in response to
// inbound datagrams and outbound application sends.
//
// It embeds worker.Worker and dispatches from a command channel in one
// goroutine's select loop, with a separate goroutine posting inbound
// network events into that loop.
package engine

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/quince-transport/quince/aead"
	"github.com/quince-transport/quince/codec"
	"github.com/quince-transport/quince/config"
	"github.com/quince-transport/quince/congestion"
	"github.com/quince-transport/quince/fsm"
	"github.com/quince-transport/quince/handshake"
	logpkg "github.com/quince-transport/quince/internal/log"
	"github.com/quince-transport/quince/internal/metrics"
	"github.com/quince-transport/quince/internal/worker"
	"github.com/quince-transport/quince/migration"
	"github.com/quince-transport/quince/reliability"
	"github.com/quince-transport/quince/security"
	"github.com/quince-transport/quince/streammux"
	"github.com/quince-transport/quince/transport"
	"github.com/quince-transport/quince/wire"
)

var log = logpkg.New("engine")

// ClosedError indicates the connection or stream is terminal.
type ClosedError struct{}

func (e *ClosedError) Error() string { return "engine: connection_closed" }

// HandshakeFailedError indicates the cryptographic handshake did not
// complete.
type HandshakeFailedError struct{ Err error }

func (e *HandshakeFailedError) Error() string {
	return fmt.Sprintf("engine: handshake_failed: %v", e.Err)
}

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct{ Op string }

func (e *TimeoutError) Error() string { return fmt.Sprintf("engine: timeout: %s", e.Op) }

// UnderlyingError wraps a system/network failure.
type UnderlyingError struct{ Err error }

func (e *UnderlyingError) Error() string { return fmt.Sprintf("engine: underlying: %v", e.Err) }
func (e *UnderlyingError) Unwrap() error { return e.Err }

// Stats is the snapshot returned by connection.stats().
type Stats struct {
	RTT           time.Duration
	Cwnd          int64
	LossRate      float64
	BytesSent     uint64
	BytesReceived uint64
}

type sendCmd struct {
	streamID uint32
	payload  []byte
	done     chan error
}

type openStreamCmd struct {
	done chan openStreamResult
}

type openStreamResult struct {
	id  uint32
	err error
}

type closeCmd struct {
	graceful bool
	done     chan struct{}
}

type statsCmd struct {
	done chan Stats
}

type closeStreamCmd struct {
	streamID uint32
	done     chan struct{}
}

type resetStreamCmd struct {
	streamID uint32
	done     chan struct{}
}

// Connection is the single-actor connection engine. All of its
// substructures are exclusively owned by its run loop; callers interact
// only through the command channel, a request-with-doneFn pattern.
type Connection struct {
	worker.Worker

	cfg      *config.Config
	udp      transport.Conn
	peerAddr net.Addr
	aeadImpl aead.AEAD
	appCodec codec.Codec

	connID  uint32
	keypair *handshake.KeyPair

	security    *security.Manager
	replayStore *security.ReplayStore
	reliability *reliability.Tracker
	congestion  *congestion.Controller
	migrationT  *migration.Tracker
	streams     *streammux.Manager
	connFSM     *fsm.Machine

	// recvRanges records the packet numbers received from the peer;
	// outgoing ACK frames are built from it. It is distinct from the
	// reliability tracker's own range set, which covers the opposite
	// direction (our packets the peer has acknowledged).
	recvRanges reliability.RangeSet

	sendQueue   []queuedFrame
	coalesceBuf [][]byte

	packetsSent, packetsAcked, packetsLost uint64
	bytesSent, bytesReceived               uint64

	cmdCh     chan interface{}
	inboundCh chan transport.Datagram

	closed    chan struct{}
	closedErr error
}

type queuedFrame struct {
	streamID  uint32
	frameType wire.FrameType
	body      []byte
}

// Dial creates a Connection over the given, already-bound UDP
// collaborator and immediately begins the handshake toward peerAddr, matching the public
// connect(host, port, security) operation (the security parameter
// corresponds to choosing a non-default aead.AEAD implementation; the
// default is used when aeadImpl is nil).
func Dial(cfg *config.Config, udp transport.Conn, peerAddr net.Addr, aeadImpl aead.AEAD) (*Connection, error) {
	if aeadImpl == nil {
		aeadImpl = aead.New()
	}
	kp, err := handshake.Generate()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	c := &Connection{
		cfg:         cfg,
		udp:         udp,
		peerAddr:    peerAddr,
		aeadImpl:    aeadImpl,
		appCodec:    codec.New(),
		connID:      uint32(now.UnixNano()),
		keypair:     kp,
		reliability: reliability.New(),
		congestion: congestion.New(
			cfg.Congestion.InitialCwndBytes,
			cfg.Congestion.InitialSsthreshBytes,
			cfg.Congestion.MSSBytes,
			cfg.Congestion.MaxCwndBytes,
			cfg.Congestion.PacingRateBytesPerSec,
			now,
		),
		migrationT: migration.New(peerAddr, cfg.Migration.MinInterval.Duration, cfg.Migration.MaxCount),
		streams:    streammux.NewManager(cfg.Streams.MaxStreamsPerConnection),
		connFSM:    fsm.NewMachine(fsm.NewConnectionTable(), fsm.ConnIdle),
		cmdCh:      make(chan interface{}),
		inboundCh:  make(chan transport.Datagram, 64),
		closed:     make(chan struct{}),
	}
	// Metrics are always tracked internally; the engine does not read
	// cfg.Metrics.Enable, and no scrape endpoint is exposed here.
	metrics.Register()

	if cfg.Security.ReplayStorePath != "" {
		store, err := security.OpenReplayStore(cfg.Security.ReplayStorePath)
		if err != nil {
			return nil, err
		}
		c.replayStore = store
	}

	go c.recvLoop()
	go c.run()

	c.cmdCh <- openConnCmd{}
	return c, nil
}

type openConnCmd struct{}

func (c *Connection) recvLoop() {
	for {
		dg, err := c.udp.Recv()
		if err != nil {
			select {
			case <-c.HaltCh():
			default:
				// A recv failure on a live connection terminates the
				// receive loop and drives the engine toward closed.
				log.Debugf("recv loop terminating: %v", err)
				c.Worker.Halt()
			}
			return
		}
		select {
		case c.inboundCh <- dg:
		case <-c.HaltCh():
			return
		}
	}
}

func (c *Connection) run() {
	var handshakeTimer, drainTimer, retransmitTimer, keepaliveTimer *time.Timer
	retransmitTimer = time.NewTimer(c.reliability.RTO())
	keepaliveTimer = time.NewTimer(c.cfg.Timers.KeepaliveInterval.Duration)
	defer func() {
		if handshakeTimer != nil {
			handshakeTimer.Stop()
		}
		if drainTimer != nil {
			drainTimer.Stop()
		}
		retransmitTimer.Stop()
		keepaliveTimer.Stop()
		// Closing the socket unblocks recvLoop's blocking Recv call so
		// that goroutine exits too, rather than leaking for the life of
		// the process.
		if err := c.udp.Close(); err != nil {
			log.Debugf("udp close: %v", err)
		}
		// Resource release is unconditional once the loop exits,
		// whichever path got here (drain timer, handshake timeout,
		// abrupt close, halt).
		c.journalReplayHighWater()
		if c.security != nil {
			c.security.Destroy()
		}
		if c.replayStore != nil {
			if err := c.replayStore.Close(); err != nil {
				log.Warningf("replay store close failed: %v", err)
			}
		}
		close(c.closed)
	}()

	for {
		select {
		case <-c.HaltCh():
			return

		case cmd := <-c.cmdCh:
			switch v := cmd.(type) {
			case openConnCmd:
				effects := c.connFSM.Fire(fsm.EvtAppOpenRequested)
				c.applyConnEffects(effects)
				handshakeTimer = time.NewTimer(c.cfg.Timers.HandshakeTimeout.Duration)
			case sendCmd:
				v.done <- c.handleSend(v.streamID, v.payload)
			case openStreamCmd:
				id, err := c.streams.Open()
				v.done <- openStreamResult{id: id, err: err}
			case closeCmd:
				c.handleClose(v.graceful)
				if v.graceful {
					drainTimer = time.NewTimer(c.cfg.Timers.DrainTimeout.Duration)
				} else {
					v.done <- struct{}{}
					return
				}
				v.done <- struct{}{}
			case statsCmd:
				v.done <- c.snapshotStats()
			case closeStreamCmd:
				c.handleCloseStream(v.streamID)
				v.done <- struct{}{}
			case resetStreamCmd:
				c.handleResetStream(v.streamID)
				v.done <- struct{}{}
			}

		case dg := <-c.inboundCh:
			c.handleInbound(dg)
			c.drainSendQueue()

		case <-timerC(handshakeTimer):
			if c.connFSM.State() == fsm.ConnSynSent {
				effects := c.connFSM.Fire(fsm.EvtTimeoutHandshake)
				c.applyConnEffects(effects)
				c.closedErr = &TimeoutError{Op: "handshake"}
				return
			}

		case <-timerC(drainTimer):
			effects := c.connFSM.Fire(fsm.EvtTimeoutDrain)
			c.applyConnEffects(effects)
			return

		case <-retransmitTimer.C:
			c.handleRetransmitTick()
			retransmitTimer.Reset(c.reliability.RTO())

		case <-keepaliveTimer.C:
			if c.connFSM.State() == fsm.ConnActive {
				c.sendControlFrame(wire.FramePing, nil)
			}
			keepaliveTimer.Reset(c.cfg.Timers.KeepaliveInterval.Duration)
		}
	}
}

// timerC returns a nil channel for a nil timer so the surrounding select
// simply never fires that case, rather than requiring every timer to
// exist before the handshake/drain phases that own them.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// applyConnEffects executes connection-FSM effect kinds using the
// engine's own local context (keypair, peer address) for any payload the
// effect needs, following the out-of-band payload design.
func (c *Connection) applyConnEffects(effects []fsm.Effect) {
	for _, e := range effects {
		switch e {
		case fsm.EffSendPacketHandshake, fsm.EffSendPacketHandshakeAck:
			c.sendHandshakePacket()
		case fsm.EffSendPacketClose:
			c.sendControlFrame(wire.FrameReset, nil)
		case fsm.EffMarkHandshakeStarted, fsm.EffMarkActive, fsm.EffMarkClosed,
			fsm.EffStartTimerHandshake, fsm.EffCancelTimerHandshake:
			// State bookkeeping and timer arming are handled by the run
			// loop itself, which owns the timers; the FSM's own State()
			// already reflects the transition.
		}
	}
}

func (c *Connection) sendHandshakePacket() {
	pn := c.reliability.Allocate()
	pkt := wire.Packet{
		Version:      wire.CurrentVersion,
		Flags:        wire.FlagHandshakeUnencrypted,
		ConnectionID: c.connID,
		PacketNumber: pn,
		StreamID:     0,
		Payload:      append([]byte(nil), c.keypair.Public[:]...),
	}
	c.sendPacketImmediate(pkt)
}

// handleInbound validates the source address, splits the datagram, then
// dispatches each packet. A source that is neither the current nor the
// original address is admitted only by adopting it as a migration, which
// the tracker's rate and count limits gate; otherwise the datagram is
// silently dropped.
func (c *Connection) handleInbound(dg transport.Datagram) {
	if !c.migrationT.Validate(dg.Source) {
		if !c.migrationT.Migrate(dg.Source, time.Now()) {
			return
		}
	} else if c.migrationT.HasChanged(dg.Source) {
		c.migrationT.Migrate(dg.Source, time.Now())
	}
	packets, err := wire.Split(dg.Payload)
	if err != nil {
		return
	}
	for _, pkt := range packets {
		c.handlePacket(pkt)
	}
}

func (c *Connection) handlePacket(pkt wire.Packet) {
	if pkt.Version != wire.CurrentVersion {
		return
	}

	if pkt.Flags&wire.FlagHandshakeUnencrypted != 0 {
		c.handleHandshakePayload(pkt.Payload)
		return
	}

	if c.security == nil {
		return // no key established yet; only handshake packets are valid
	}

	nonce := uint64(pkt.PacketNumber)
	if !c.security.ValidateIncoming(nonce) {
		return
	}
	plaintext, err := c.aeadImpl.Decrypt(pkt.Payload, c.security.Key(), nonce)
	if err != nil {
		// The peer may have ratcheted its key forward on its own rotation
		// budget. Trial-decrypt under the next derived key and, on
		// success, adopt the rotation so both sides converge; the packets
		// each side had in flight under the old key are lost to the
		// mismatch window and recovered by retransmission.
		candidate, cerr := c.security.RatchetCandidate()
		if cerr != nil {
			return
		}
		plaintext, err = c.aeadImpl.Decrypt(pkt.Payload, candidate, nonce)
		if err != nil {
			return
		}
		c.journalReplayHighWater()
		if rerr := c.security.RotateSelf(time.Now()); rerr != nil {
			return
		}
		// Rotation cleared the replay window; re-record this nonce in the
		// fresh one.
		c.security.ValidateIncoming(nonce)
	}
	if len(plaintext) < 1 {
		return
	}
	frameType := wire.FrameType(plaintext[0])
	body := plaintext[1:]

	metrics.BytesReceived.Add(float64(len(plaintext)))

	switch frameType {
	case wire.FrameACK:
		ack, err := wire.DecodeAckFrame(body)
		if err != nil {
			return
		}
		c.handleAck(ack)
	case wire.FramePing:
		c.sendControlFrame(wire.FramePong, nil)
	case wire.FramePong:
		// keepalive reply; nothing further to do.
	case wire.FrameReset:
		// Resets are retransmittable on the peer's side, so their receipt
		// is acknowledged like data.
		c.recvRanges.Add(pkt.PacketNumber)
		if pkt.StreamID == 0 {
			// Stream 0 carries the connection-level close signal: the
			// peer is draining and will release its state, so this side
			// closes too. The ACK goes out first so the peer stops
			// resending the close.
			c.sendAck()
			c.connFSM.ForceState(fsm.ConnClosed)
			c.Worker.Halt()
			return
		}
		c.streams.OnResetReceived(pkt.StreamID)
		c.sendAck()
	case wire.FrameData:
		c.recvRanges.Add(pkt.PacketNumber)
		c.handleDataFrame(pkt.StreamID, body)
	}
}

func (c *Connection) handleHandshakePayload(payload []byte) {
	if len(payload) != handshake.PublicValueSize {
		return
	}
	var peerPub [handshake.PublicValueSize]byte
	copy(peerPub[:], payload)

	secret, err := c.keypair.SharedSecret(peerPub)
	if err != nil {
		effects := c.connFSM.Fire(fsm.EvtHandshakeFailed)
		c.applyConnEffects(effects)
		c.closedErr = &HandshakeFailedError{Err: err}
		c.Worker.Halt()
		return
	}

	if c.connFSM.State() == fsm.ConnSynSent {
		effects := c.connFSM.Fire(fsm.EvtPacketReceived)
		c.applyConnEffects(effects)
	}

	if c.security == nil {
		sec, err := security.New(security.Config{
			MaxPacketsPerKey: c.cfg.Security.MaxPacketsPerKey,
			MaxTimePerKey:    c.cfg.Security.MaxTimePerKey.Duration,
			ReplayWindowSize: c.cfg.Security.ReplayWindowSize,
		}, secret, time.Now())
		if err != nil {
			effects := c.connFSM.Fire(fsm.EvtHandshakeFailed)
			c.applyConnEffects(effects)
			c.closedErr = &HandshakeFailedError{Err: err}
			c.Worker.Halt()
			return
		}
		sec.SeedFloor(c.connID, c.replayStore)
		c.security = sec
	}

	if c.connFSM.State() == fsm.ConnHandshake {
		effects := c.connFSM.Fire(fsm.EvtHandshakeSucceeded)
		c.applyConnEffects(effects)
		// Any Send calls that arrived before the key was established were
		// queued by emitFrame rather than dropped; now that c.security is
		// set, they can finally go out.
		c.drainSendQueue()
	}
}

// handleAck applies every packet number named by ack's ranges that is
// not already acknowledged, per the union-of-ranges rule. Ranges are
// clamped to the allocated packet-number space first: an ACK for a pn
// that was never allocated is ignored, which also bounds the walk
// against an absurdly wide hostile range.
func (c *Connection) handleAck(ack wire.AckFrame) {
	next := c.reliability.NextPN()
	if next == 0 {
		return
	}
	for _, r := range ack.Ranges {
		start, end := r.Start, r.End
		if end > next-1 {
			end = next - 1
		}
		if start > end {
			continue
		}
		for pn := start; ; pn++ {
			if !c.reliability.IsAcked(pn) {
				payload, _ := c.reliability.Payload(pn)
				if c.reliability.NoteAck(pn, time.Now()) {
					c.packetsAcked++
					metrics.PacketsAcked.Inc()
					c.congestion.OnAck(int64(len(payload)))
				}
			}
			if pn == end {
				break
			}
		}
	}
}

func (c *Connection) handleDataFrame(streamID uint32, body []byte) {
	if streamID == 0 {
		return
	}
	// Receipt is acknowledged even when the stream is already closed or
	// the frame is dropped below: the peer needs the packet out of its
	// in-flight map either way, or it will retransmit forever.
	defer c.sendAck()
	if len(body) == 0 {
		// Zero-length DATA is the stream close marker (the application
		// codec never produces an empty encoding, so there is no
		// ambiguity with real payloads).
		c.streams.OnCloseMarker(streamID)
		return
	}
	if _, ok := c.streams.State(streamID); !ok {
		// First frame for an id this side never locally opened: the peer
		// initiated it. A retired id fails here and the frame is dropped.
		if err := c.streams.OpenPassive(streamID); err != nil {
			return
		}
	}
	effects, err := c.streams.OnFrameReceived(streamID, body)
	if err != nil {
		return
	}
	if len(effects) > 0 {
		// The type byte plus the body: the same frame granularity
		// bytesSent counts on the sending side.
		c.bytesReceived += uint64(1 + len(body))
	}
}

// sendAck builds and sends an ACK frame covering every packet-number
// range received from the peer so far.
func (c *Connection) sendAck() {
	if c.security == nil {
		return
	}
	ranges := c.recvRanges.Ranges()
	if len(ranges) == 0 {
		return
	}
	largest, _ := c.recvRanges.Largest()
	ackRanges := make([]wire.AckRange, len(ranges))
	for i, r := range ranges {
		ackRanges[i] = wire.AckRange{Start: r.Start, End: r.End}
	}
	body, err := wire.EncodeAckFrame(wire.AckFrame{LargestAcked: largest, Ranges: ackRanges})
	if err != nil {
		return
	}
	c.sendControlFrame(wire.FrameACK, body)
}

// sendControlFrame sends a frame on stream 0, bypassing congestion
// admission control: ACKs, pings and resets must not be starved by the
// very congestion signal they help compute.
func (c *Connection) sendControlFrame(frameType wire.FrameType, body []byte) {
	if c.security == nil {
		return
	}
	c.emitFrame(0, frameType, body, true)
}

// handleSend runs the stream FSM for an application send and feeds the
// resulting emitFrame effect through the congestion-gated outbound
// path.
func (c *Connection) handleSend(streamID uint32, payload []byte) error {
	if c.connFSM.State() == fsm.ConnClosed || c.connFSM.State() == fsm.ConnDraining {
		return &ClosedError{}
	}
	effects, err := c.streams.OnAppSend(streamID, payload)
	if err != nil {
		return err
	}
	for _, e := range effects {
		if e.Kind == fsm.EffEmitFrame {
			if err := c.emitFrame(streamID, wire.FrameData, e.Payload, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleCloseStream runs the stream FSM's appClose event (
// open -> halfClosedLocal, emitting a close-marker frame) and finalizes
// the stream's delivery buffer once its FSM reaches closed.
func (c *Connection) handleCloseStream(streamID uint32) {
	effects, err := c.streams.OnAppClose(streamID)
	if err != nil {
		return
	}
	for _, e := range effects {
		if e.Kind == fsm.EffEmitFrameCloseMarker {
			// There is no dedicated FIN frame type; a zero-length DATA
			// frame is the close marker the peer's stream FSM sees as an
			// ordinary frameReceived, while locally this stream is now
			// halfClosedLocal and will accept no further appSend.
			c.emitFrame(streamID, wire.FrameData, nil, false)
		}
	}
}

// handleResetStream abortively closes one stream: local state is
// discarded immediately (the delivery buffer is finalized, the id
// retired) and a RESET frame on the stream's own id tells the peer's
// FSM to do the same via its resetReceived transition. Control traffic,
// so it bypasses congestion admission like the connection-level close.
func (c *Connection) handleResetStream(streamID uint32) {
	if _, ok := c.streams.State(streamID); !ok {
		return
	}
	c.streams.Close(streamID)
	c.emitFrame(streamID, wire.FrameReset, nil, true)
}

// emitFrame builds a [frame_type|body] plaintext frame and either sends
// it immediately (if bypass is set, or congestion admits it) or appends
// it to the pending send queue. A UDP write failure on the immediate
// path is returned wrapped for the caller.
func (c *Connection) emitFrame(streamID uint32, frameType wire.FrameType, body []byte, bypass bool) error {
	frame := append([]byte{byte(frameType)}, body...)
	// A Send arriving before the handshake has established a key is
	// queued exactly like a congestion denial: there is nothing to
	// encrypt under yet, and drainSendQueue runs again once
	// handleHandshakePayload sets c.security (ordering
	// between handshake completion and the first application send is
	// left to the engine).
	if c.security == nil || (!bypass && !c.congestion.CanSend(int64(len(frame)), time.Now())) {
		c.sendQueue = append(c.sendQueue, queuedFrame{streamID: streamID, frameType: frameType, body: body})
		return nil
	}
	c.sendFrameNow(streamID, frameType, body)
	return c.flushCoalesceBuffer()
}

func (c *Connection) sendFrameNow(streamID uint32, frameType wire.FrameType, body []byte) {
	frame := append([]byte{byte(frameType)}, body...)
	// Only retransmittable frames are tracked in flight: ACK, PING and
	// PONG elicit no acknowledgement themselves, so recording them would
	// leave permanent residue in bytes_in_flight and classify every one
	// of them as a loss at the next timer fire.
	track := frameType == wire.FrameData || frameType == wire.FrameReset
	c.transmitFrame(streamID, frame, track)
}

// transmitFrame encrypts and sends an already-assembled [frame_type|body]
// frame under a freshly allocated packet number. It is shared by ordinary
// sends and by retransmission, which resends the exact frame bytes
// retained by the reliability tracker rather than re-deriving them.
// Retransmission never reuses the original packet number, since the
// nonce is derived from it and nonces must not repeat.
func (c *Connection) transmitFrame(streamID uint32, frame []byte, track bool) {
	pn := c.reliability.Allocate()
	nonce := uint64(pn)
	ciphertext, err := c.aeadImpl.Encrypt(frame, c.security.Key(), nonce)
	if err != nil {
		return
	}
	if track {
		c.reliability.NoteSent(pn, streamID, frame, time.Now())
		c.congestion.MarkInFlight(int64(len(frame)))
	}
	c.security.NextNonce()

	pkt := wire.Packet{
		Version:      wire.CurrentVersion,
		ConnectionID: c.connID,
		PacketNumber: pn,
		StreamID:     streamID,
		Payload:      ciphertext,
	}
	enc, err := wire.Encode(pkt)
	if err != nil {
		return
	}
	c.coalesceBuf = append(c.coalesceBuf, enc)
	c.packetsSent++
	c.bytesSent += uint64(len(frame))
	metrics.PacketsSent.Inc()
	metrics.BytesSent.Add(float64(len(frame)))

	if c.security.ShouldRotate(time.Now()) {
		c.journalReplayHighWater()
		if err := c.security.RotateSelf(time.Now()); err != nil {
			log.Warningf("key rotation failed: %v", err)
		}
	}
}

// journalReplayHighWater persists the replay window's high-water mark so
// a crash-and-restart does not briefly re-accept nonces an attacker
// replayed from before the crash. A no-op when no ReplayStore is
// configured or nothing has been observed yet.
func (c *Connection) journalReplayHighWater() {
	if c.replayStore == nil || c.security == nil {
		return
	}
	hw := c.security.HighWater()
	if hw == 0 {
		return
	}
	if err := c.replayStore.SaveHighWater(c.connID, hw); err != nil {
		log.Warningf("replay store journal failed: %v", err)
	}
}

// sendPacketImmediate encodes and writes a single already-built packet
// without going through the coalesce buffer, used for handshake packets
// which precede any stream traffic.
func (c *Connection) sendPacketImmediate(pkt wire.Packet) {
	enc, err := wire.Encode(pkt)
	if err != nil {
		return
	}
	if err := c.udp.SendTo(c.peerAddr, enc); err != nil {
		log.Warningf("handshake send failed: %v", err)
	}
}

// flushCoalesceBuffer batches the pending encoded packets into
// MTU-bounded datagrams and hands each to the UDP collaborator. The
// first write failure is returned wrapped as an UnderlyingError; later
// datagrams in the batch are still attempted.
func (c *Connection) flushCoalesceBuffer() error {
	if len(c.coalesceBuf) == 0 {
		return nil
	}
	datagrams := wire.Coalesce(c.coalesceBuf, c.cfg.Wire.CoalesceMTUBytes)
	c.coalesceBuf = c.coalesceBuf[:0]
	var firstErr error
	for _, dg := range datagrams {
		if err := c.udp.SendTo(c.peerAddr, dg); err != nil {
			log.Warningf("send failed: %v", err)
			if firstErr == nil {
				firstErr = &UnderlyingError{Err: err}
			}
		}
	}
	return firstErr
}

// drainSendQueue re-drains the pending send queue in FIFO order after an
// ACK may have advanced bytes_in_flight, stopping at the first denial.
func (c *Connection) drainSendQueue() {
	i := 0
	for ; i < len(c.sendQueue); i++ {
		qf := c.sendQueue[i]
		frame := append([]byte{byte(qf.frameType)}, qf.body...)
		if !c.congestion.CanSend(int64(len(frame)), time.Now()) {
			break
		}
		c.sendFrameNow(qf.streamID, qf.frameType, qf.body)
	}
	c.sendQueue = c.sendQueue[i:]
	c.flushCoalesceBuffer()
}

func (c *Connection) handleRetransmitTick() {
	now := time.Now()
	timedOut := c.reliability.TimedOut(now, c.reliability.RTO())
	// Higher-priority streams' frames are resent first; within a stream
	// the ascending packet-number order from TimedOut is preserved, so
	// per-stream send order survives the resend.
	sort.SliceStable(timedOut, func(i, j int) bool {
		return c.streams.Weight(timedOut[i].StreamID) > c.streams.Weight(timedOut[j].StreamID)
	})
	for _, p := range timedOut {
		c.congestion.RemoveFromFlight(int64(len(p.Payload)))
		c.congestion.OnLoss(now)
		c.packetsLost++
		metrics.PacketsLost.Inc()
		if c.security != nil && len(p.Payload) > 0 {
			c.transmitFrame(p.StreamID, p.Payload, true)
		}
	}
	c.flushCoalesceBuffer()
	metrics.CwndBytes.Set(float64(c.congestion.Cwnd()))
	metrics.SmoothedRTT.Set(c.reliability.SmoothedRTT().Seconds())
}

func (c *Connection) handleClose(graceful bool) {
	if graceful {
		effects := c.connFSM.Fire(fsm.EvtAppCloseRequested)
		c.applyConnEffects(effects)
		return
	}
	// Abrupt close releases resources unconditionally, so it forces
	// the terminal state directly rather than following a defined
	// transition.
	c.connFSM.ForceState(fsm.ConnClosed)
}

func (c *Connection) snapshotStats() Stats {
	lossRate := 0.0
	if c.packetsSent > 0 {
		lossRate = float64(c.packetsLost) / float64(c.packetsSent)
	}
	rtt := c.reliability.SmoothedRTT()
	return Stats{
		RTT:           rtt,
		Cwnd:          c.congestion.Cwnd(),
		LossRate:      lossRate,
		BytesSent:     c.bytesSent,
		BytesReceived: c.bytesReceived,
	}
}

// Send feeds payload into stream_id's outbound path and blocks until the
// engine has handed it to the congestion-gated send path or enqueued it.
func (c *Connection) Send(streamID uint32, payload []byte) error {
	done := make(chan error, 1)
	select {
	case c.cmdCh <- sendCmd{streamID: streamID, payload: payload, done: done}:
	case <-c.closed:
		return &ClosedError{}
	}
	select {
	case err := <-done:
		return err
	case <-c.closed:
		return &ClosedError{}
	}
}

// OpenStream allocates a new stream id.
func (c *Connection) OpenStream() (uint32, error) {
	done := make(chan openStreamResult, 1)
	select {
	case c.cmdCh <- openStreamCmd{done: done}:
	case <-c.closed:
		return 0, &ClosedError{}
	}
	select {
	case r := <-done:
		return r.id, r.err
	case <-c.closed:
		return 0, &ClosedError{}
	}
}

// Buffer returns the delivery buffer for a live stream, for Receive.
func (c *Connection) Buffer(streamID uint32) (*streammux.DeliveryBuffer, bool) {
	return c.streams.Buffer(streamID)
}

// CloseStream closes one stream (not the whole connection): it fires the
// stream FSM's appClose event and, once closed, finalizes the stream's
// delivery buffer.
func (c *Connection) CloseStream(streamID uint32) {
	done := make(chan struct{}, 1)
	select {
	case c.cmdCh <- closeStreamCmd{streamID: streamID, done: done}:
		<-done
	case <-c.closed:
	}
}

// ResetStream abortively closes one stream: no half-close handshake, the
// peer's stream FSM observes resetReceived and discards its state for
// the id.
func (c *Connection) ResetStream(streamID uint32) {
	done := make(chan struct{}, 1)
	select {
	case c.cmdCh <- resetStreamCmd{streamID: streamID, done: done}:
		<-done
	case <-c.closed:
	}
}

// Codec returns the application value codec this connection was
// constructed with, for the top-level Stream wrapper's Send/Receive.
func (c *Connection) Codec() codec.Codec {
	return c.appCodec
}

// Close performs a graceful shutdown: the connection transitions through
// draining and releases resources once the drain timer fires.
// Idempotent.
func (c *Connection) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	done := make(chan struct{}, 1)
	select {
	case c.cmdCh <- closeCmd{graceful: true, done: done}:
		<-done
	case <-c.closed:
	}
	return nil
}

// CloseNow performs an abrupt shutdown, releasing resources immediately
// without waiting on the drain timer.
func (c *Connection) CloseNow() {
	select {
	case <-c.closed:
		return
	default:
	}
	done := make(chan struct{}, 1)
	select {
	case c.cmdCh <- closeCmd{graceful: false, done: done}:
	case <-c.closed:
		return
	}
	c.Worker.Halt()
	<-c.closed
}

// Err returns the terminal error that closed the connection (a
// handshake failure or timeout), or nil while the connection is live or
// after a clean close.
func (c *Connection) Err() error {
	select {
	case <-c.closed:
		return c.closedErr
	default:
		return nil
	}
}

// Stats returns the current connection statistics.
func (c *Connection) Stats() Stats {
	done := make(chan Stats, 1)
	select {
	case c.cmdCh <- statsCmd{done: done}:
	case <-c.closed:
		return Stats{}
	}
	select {
	case s := <-done:
		return s
	case <-c.closed:
		return Stats{}
	}
}
