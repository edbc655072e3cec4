package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionFSMHappyPath(t *testing.T) {
	m := NewMachine(NewConnectionTable(), ConnIdle)

	effects := m.Fire(EvtAppOpenRequested)
	require.Equal(t, ConnSynSent, m.State())
	require.Equal(t, []Effect{EffSendPacketHandshake, EffStartTimerHandshake, EffMarkHandshakeStarted}, effects)

	effects = m.Fire(EvtPacketReceived)
	require.Equal(t, ConnHandshake, m.State())
	require.Equal(t, []Effect{EffSendPacketHandshakeAck}, effects)

	effects = m.Fire(EvtHandshakeSucceeded)
	require.Equal(t, ConnActive, m.State())
	require.Equal(t, []Effect{EffCancelTimerHandshake, EffMarkActive}, effects)

	effects = m.Fire(EvtAppCloseRequested)
	require.Equal(t, ConnDraining, m.State())
	require.Equal(t, []Effect{EffSendPacketClose}, effects)

	effects = m.Fire(EvtTimeoutDrain)
	require.Equal(t, ConnClosed, m.State())
	require.Equal(t, []Effect{EffMarkClosed}, effects)
}

func TestConnectionFSMHandshakeTimeout(t *testing.T) {
	m := NewMachine(NewConnectionTable(), ConnIdle)
	m.Fire(EvtAppOpenRequested)
	effects := m.Fire(EvtTimeoutHandshake)
	require.Equal(t, ConnClosed, m.State())
	require.Equal(t, []Effect{EffMarkClosed}, effects)
}

func TestConnectionFSMHandshakeFailure(t *testing.T) {
	m := NewMachine(NewConnectionTable(), ConnIdle)
	m.Fire(EvtAppOpenRequested)
	m.Fire(EvtPacketReceived)
	effects := m.Fire(EvtHandshakeFailed)
	require.Equal(t, ConnClosed, m.State())
	require.Equal(t, []Effect{EffMarkClosed}, effects)
}

func TestConnectionFSMUnlistedTransitionIsNoOp(t *testing.T) {
	m := NewMachine(NewConnectionTable(), ConnIdle)
	effects := m.Fire(EvtPacketReceived)
	require.Equal(t, ConnIdle, m.State())
	require.Nil(t, effects)
}

func TestStreamFSMHappyPath(t *testing.T) {
	m := NewMachine(NewStreamTable(), StreamIdle)

	effects := m.Fire(EvtAppSend)
	require.Equal(t, StreamOpen, m.State())
	require.Equal(t, []Effect{EffEmitFrame}, effects)

	effects = m.Fire(EvtFrameReceived)
	require.Equal(t, StreamOpen, m.State())
	require.Equal(t, []Effect{EffDeliverToApp}, effects)

	effects = m.Fire(EvtAppClose)
	require.Equal(t, StreamHalfClosedLocal, m.State())
	require.Equal(t, []Effect{EffEmitFrameCloseMarker}, effects)

	effects = m.Fire(EvtFrameReceived)
	require.Equal(t, StreamClosed, m.State())
	require.Equal(t, []Effect{EffMarkStreamClosed}, effects)
}

func TestStreamFSMResetFromOpen(t *testing.T) {
	m := NewMachine(NewStreamTable(), StreamIdle)
	m.Fire(EvtAppSend)
	effects := m.Fire(EvtResetReceived)
	require.Equal(t, StreamClosed, m.State())
	require.Equal(t, []Effect{EffMarkStreamClosed}, effects)
}

func TestStreamFSMUndefinedTransitionIsNoOp(t *testing.T) {
	m := NewMachine(NewStreamTable(), StreamHalfClosedLocal)
	effects := m.Fire(EvtResetReceived)
	require.Equal(t, StreamHalfClosedLocal, m.State())
	require.Nil(t, effects)
}
