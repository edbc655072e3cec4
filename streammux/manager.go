package streammux

import (
	"fmt"
	"sync"

	"github.com/quince-transport/quince/fsm"
)

// ResourceError is returned when an operation fails because the stream
// cap has been reached, the stream is unknown, or a duplicate id would
// result.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("streammux: %s: %v", e.Op, e.Err)
}

func newResourceError(op, format string, a ...interface{}) error {
	return &ResourceError{Op: op, Err: fmt.Errorf(format, a...)}
}

type streamState struct {
	machine *fsm.Machine
	buffer  *DeliveryBuffer
}

// Effect pairs an FSM effect kind with the payload the engine supplied,
// following the tagged-variant design: the table only carries effect
// kinds, and the manager threads the out-of-band payload through.
type Effect struct {
	Kind     fsm.Effect
	StreamID uint32
	Payload  []byte
}

// Manager is the stream manager: it allocates stream ids, stores one
// FSM and one delivery buffer per live stream, and maintains the shared
// priority queue.
//
// Not safe for concurrent mutation from multiple goroutines
// simultaneously; the connection engine is its sole owner, though
// DeliveryBuffer reads may be fanned out to consumer goroutines
// independently.
type Manager struct {
	mu       sync.Mutex
	table    *fsm.Table
	streams  map[uint32]*streamState
	retired  map[uint32]struct{}
	nextID   uint32
	maxCount int
	queue    *PriorityQueue
}

// NewManager returns a Manager enforcing the given concurrent-stream cap
// (default 32, configurable).
func NewManager(maxCount int) *Manager {
	return &Manager{
		table:    fsm.NewStreamTable(),
		streams:  make(map[uint32]*streamState),
		retired:  make(map[uint32]struct{}),
		nextID:   1,
		maxCount: maxCount,
		queue:    NewPriorityQueue(),
	}
}

// Open allocates a strictly-increasing 32-bit stream id starting at 1, a
// fresh stream FSM in state idle, and a delivery buffer, and registers it
// in the priority queue at the default weight. It fails with a
// ResourceError once maxCount streams are concurrently open (exactly one
// FSM per live stream id, enforced by construction since ids are never
// reused while live).
func (m *Manager) Open() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) >= m.maxCount {
		return 0, newResourceError("open", "stream cap of %d reached", m.maxCount)
	}
	id := m.nextID
	m.nextID++
	m.streams[id] = &streamState{
		machine: fsm.NewMachine(m.table, fsm.StreamIdle),
		buffer:  NewDeliveryBuffer(),
	}
	m.queue.Add(id, WeightDefault)
	return id, nil
}

// OpenPassive registers id's stream state on first receipt of a frame
// for an id this side never locally allocated via Open, which happens
// whenever the peer initiated the stream. It is idempotent: calling it
// for an id that is already live (locally- or passively-opened) is a
// no-op. The id-allocation counter used by Open is untouched, since a
// passively-opened id was never drawn from it (one FSM per live stream
// id, whichever side created it).
func (m *Manager) OpenPassive(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[id]; ok {
		return nil
	}
	if _, was := m.retired[id]; was {
		// A late or retransmitted frame for a stream that already reached
		// closed must not resurrect it: one FSM per stream id over the
		// connection's whole lifetime.
		return newResourceError("openPassive", "stream %d already closed", id)
	}
	if len(m.streams) >= m.maxCount {
		return newResourceError("openPassive", "stream cap of %d reached", m.maxCount)
	}
	// Starts in StreamOpen rather than StreamIdle: the peer's own FSM
	// already moved idle->open (emitting the frame we are about to feed
	// in), and the stream table has no idle->open transition on
	// frameReceived, only on appSend.
	m.streams[id] = &streamState{
		machine: fsm.NewMachine(m.table, fsm.StreamOpen),
		buffer:  NewDeliveryBuffer(),
	}
	m.queue.Add(id, WeightDefault)
	return nil
}

// OnAppSend feeds appSend to the stream's FSM and returns the resulting
// effects, with payload carried out-of-band per stream id.
func (m *Manager) OnAppSend(id uint32, payload []byte) ([]Effect, error) {
	return m.fire(id, fsm.EvtAppSend, payload)
}

// OnFrameReceived feeds frameReceived, threading payload through so a
// deliverToApp effect can be handed straight to the stream's buffer.
func (m *Manager) OnFrameReceived(id uint32, payload []byte) ([]Effect, error) {
	effects, err := m.fire(id, fsm.EvtFrameReceived, payload)
	if err != nil {
		return nil, err
	}
	for _, e := range effects {
		if e.Kind == fsm.EffDeliverToApp {
			m.mu.Lock()
			st, ok := m.streams[id]
			m.mu.Unlock()
			if ok {
				st.buffer.Deliver(e.Payload)
			}
		}
	}
	return effects, nil
}

// OnAppClose feeds appClose. When the peer already half-closed its
// direction (halfClosedRemote), closing the local half ends the stream
// entirely; the close marker is still emitted so the peer's own
// half-closed FSM can finish.
func (m *Manager) OnAppClose(id uint32) ([]Effect, error) {
	m.mu.Lock()
	st, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return nil, newResourceError("fire", "unknown stream %d", id)
	}
	if st.machine.State() == fsm.StreamHalfClosedRemote {
		m.Close(id)
		return []Effect{{Kind: fsm.EffEmitFrameCloseMarker, StreamID: id}}, nil
	}
	return m.fire(id, fsm.EvtAppClose, nil)
}

// OnResetReceived feeds resetReceived. Whatever the FSM makes of the
// event (only open defines a transition; the half-closed states fall
// through as no-ops), the stream's state is then discarded outright: a
// reset is abortive by definition, and the peer has already dropped its
// half.
func (m *Manager) OnResetReceived(id uint32) ([]Effect, error) {
	effects, err := m.fire(id, fsm.EvtResetReceived, nil)
	if err != nil {
		return nil, err
	}
	m.Close(id)
	return effects, nil
}

func (m *Manager) fire(id uint32, evt fsm.Event, payload []byte) ([]Effect, error) {
	m.mu.Lock()
	st, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return nil, newResourceError("fire", "unknown stream %d", id)
	}
	kinds := st.machine.Fire(evt)
	out := make([]Effect, len(kinds))
	for i, k := range kinds {
		out[i] = Effect{Kind: k, StreamID: id, Payload: payload}
	}
	if st.machine.State() == fsm.StreamClosed {
		m.Close(id)
	}
	return out, nil
}

// Close removes the stream's state, finalizing its delivery buffer so a
// blocked consumer observes end-of-stream. The id is retired: it can
// never be reopened, passively or otherwise.
func (m *Manager) Close(id uint32) {
	m.mu.Lock()
	st, ok := m.streams[id]
	if ok {
		delete(m.streams, id)
	}
	m.retired[id] = struct{}{}
	m.queue.Remove(id)
	m.mu.Unlock()
	if !ok {
		return
	}
	st.buffer.Close()
}

// OnCloseMarker handles the peer's end-of-stream marker (a zero-length
// DATA frame). From halfClosedLocal this is the ordinary frameReceived
// transition to closed; from open the stream moves to halfClosedRemote
// and its delivery sequence is terminated, while the local half stays
// registered (further appSend falls through the FSM's unlisted-transition
// handling and emits nothing).
func (m *Manager) OnCloseMarker(id uint32) {
	m.mu.Lock()
	st, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	switch st.machine.State() {
	case fsm.StreamHalfClosedLocal:
		m.fire(id, fsm.EvtFrameReceived, nil)
	case fsm.StreamOpen:
		st.machine.ForceState(fsm.StreamHalfClosedRemote)
		st.buffer.Close()
	}
}

// Buffer returns the delivery buffer for a live stream.
func (m *Manager) Buffer(id uint32) (*DeliveryBuffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[id]
	if !ok {
		return nil, false
	}
	return st.buffer, true
}

// State returns the current FSM state of a live stream.
func (m *Manager) State(id uint32) (fsm.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[id]
	if !ok {
		return "", false
	}
	return st.machine.State(), true
}

// SetPriority updates id's weight in the shared priority queue.
func (m *Manager) SetPriority(id uint32, weight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[id]; ok {
		m.queue.Add(id, weight)
	}
}

// Weight returns id's current weight in the priority queue, or the
// default weight when id is not queued (e.g. already closed).
func (m *Manager) Weight(id uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.queue.Weight(id); ok {
		return w
	}
	return WeightDefault
}

// NextReady pops the highest-weight stream id from the priority queue.
func (m *Manager) NextReady() (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Next()
}

// Requeue re-adds id to the priority queue at the given weight, for use
// after an engine drains one round and wants id eligible again.
func (m *Manager) Requeue(id uint32, weight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[id]; ok {
		m.queue.Add(id, weight)
	}
}

// Count returns the number of currently live streams.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
