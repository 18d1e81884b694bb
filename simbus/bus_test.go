package simbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-spilink/spilink"
)

func frameOf(b byte) []byte {
	f := make([]byte, spilink.FrameSize)
	for i := range f {
		f[i] = b
	}

	return f
}

func recvCompletion(t *testing.T, ep *Endpoint) spilink.Completion {
	t.Helper()

	select {
	case comp := <-ep.Completions():
		return comp
	case <-time.After(time.Second):
		t.Fatal("no completion delivered within 1s")

		return spilink.Completion{}
	}
}

func TestBusExchange(t *testing.T) {
	bus := New()

	mtx, mrx := frameOf(0xAA), make([]byte, spilink.FrameSize)
	stx, srx := frameOf(0x55), make([]byte, spilink.FrameSize)

	sh, err := bus.Slave().Start(stx, srx)
	require.NoError(t, err)

	mh, err := bus.Master().Start(mtx, mrx)
	require.NoError(t, err)

	mcomp := recvCompletion(t, bus.Master())
	scomp := recvCompletion(t, bus.Slave())

	assert.Equal(t, mh, mcomp.Handle)
	assert.Equal(t, sh, scomp.Handle)
	require.NoError(t, mcomp.Err)
	require.NoError(t, scomp.Err)

	assert.Equal(t, stx, mrx, "master should receive the slave's frame")
	assert.Equal(t, mtx, srx, "slave should receive the master's frame")
}

func TestBusExchangeWaitsForPeer(t *testing.T) {
	bus := New()

	_, err := bus.Master().Start(frameOf(1), make([]byte, spilink.FrameSize))
	require.NoError(t, err)

	select {
	case <-bus.Master().Completions():
		t.Fatal("completion delivered with no armed peer")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusStartWhileActive(t *testing.T) {
	bus := New()

	_, err := bus.Master().Start(frameOf(1), make([]byte, spilink.FrameSize))
	require.NoError(t, err)

	_, err = bus.Master().Start(frameOf(2), make([]byte, spilink.FrameSize))
	require.ErrorIs(t, err, spilink.ErrTransferActive)
}

func TestBusAbortSuppressesCompletion(t *testing.T) {
	bus := New(WithTransferDelay(50 * time.Millisecond))

	mh, err := bus.Master().Start(frameOf(1), make([]byte, spilink.FrameSize))
	require.NoError(t, err)
	_, err = bus.Slave().Start(frameOf(2), make([]byte, spilink.FrameSize))
	require.NoError(t, err)

	// Abort while delivery is still delayed.
	bus.Master().Abort(mh)

	select {
	case comp := <-bus.Master().Completions():
		t.Fatalf("completion %v delivered after abort", comp.Handle)
	case <-time.After(150 * time.Millisecond):
	}

	// The slave side is unaffected by the master's abort.
	scomp := recvCompletion(t, bus.Slave())
	require.NoError(t, scomp.Err)
}

func TestBusAbortAllowsRearm(t *testing.T) {
	bus := New()

	mh, err := bus.Master().Start(frameOf(1), make([]byte, spilink.FrameSize))
	require.NoError(t, err)

	bus.Master().Abort(mh)

	mh2, err := bus.Master().Start(frameOf(2), make([]byte, spilink.FrameSize))
	require.NoError(t, err)
	assert.NotEqual(t, mh, mh2, "handles must never be reused")
}

func TestBusCorruption(t *testing.T) {
	bus := New(WithCorruption(func(dir Direction, frame []byte) {
		if dir == SlaveToMaster {
			frame[10] ^= 0xFF
		}
	}))

	stx := frameOf(0x55)
	mrx := make([]byte, spilink.FrameSize)
	srx := make([]byte, spilink.FrameSize)

	_, err := bus.Slave().Start(stx, srx)
	require.NoError(t, err)
	mtx := frameOf(0xAA)
	_, err = bus.Master().Start(mtx, mrx)
	require.NoError(t, err)

	recvCompletion(t, bus.Master())
	recvCompletion(t, bus.Slave())

	assert.Equal(t, stx[10]^0xFF, mrx[10], "slave-to-master byte 10 should be flipped")
	assert.Equal(t, mtx, srx, "master-to-slave direction should be untouched")
	assert.Equal(t, byte(0x55), stx[10], "sender's buffer must not be mutated")
}

func TestBusFailNextTransfer(t *testing.T) {
	bus := New()
	fault := errors.New("dma overrun")
	bus.FailNextTransfer(fault)

	mrx := make([]byte, spilink.FrameSize)

	_, err := bus.Slave().Start(frameOf(2), make([]byte, spilink.FrameSize))
	require.NoError(t, err)
	_, err = bus.Master().Start(frameOf(1), mrx)
	require.NoError(t, err)

	mcomp := recvCompletion(t, bus.Master())
	scomp := recvCompletion(t, bus.Slave())
	require.ErrorIs(t, mcomp.Err, fault)
	require.ErrorIs(t, scomp.Err, fault)

	assert.Equal(t, make([]byte, spilink.FrameSize), mrx, "rx must stay untouched on a fault")

	// The fault is one-shot; the next exchange is clean.
	_, err = bus.Slave().Start(frameOf(4), make([]byte, spilink.FrameSize))
	require.NoError(t, err)
	_, err = bus.Master().Start(frameOf(3), mrx)
	require.NoError(t, err)

	require.NoError(t, recvCompletion(t, bus.Master()).Err)
	require.NoError(t, recvCompletion(t, bus.Slave()).Err)
}

func TestBusDropCompletions(t *testing.T) {
	bus := New()
	bus.Master().DropCompletions(1)

	mrx := make([]byte, spilink.FrameSize)
	srx := make([]byte, spilink.FrameSize)

	_, err := bus.Slave().Start(frameOf(2), srx)
	require.NoError(t, err)
	_, err = bus.Master().Start(frameOf(1), mrx)
	require.NoError(t, err)

	// The exchange still runs and the slave hears about it; only the
	// master's event is lost.
	scomp := recvCompletion(t, bus.Slave())
	require.NoError(t, scomp.Err)

	select {
	case <-bus.Master().Completions():
		t.Fatal("master completion should have been dropped")
	case <-time.After(50 * time.Millisecond):
	}

	// The next exchange delivers normally.
	_, err = bus.Slave().Start(frameOf(4), srx)
	require.NoError(t, err)
	_, err = bus.Master().Start(frameOf(3), mrx)
	require.NoError(t, err)

	require.NoError(t, recvCompletion(t, bus.Master()).Err)
	require.NoError(t, recvCompletion(t, bus.Slave()).Err)
}

func TestBusMismatchedBuffers(t *testing.T) {
	bus := New()

	_, err := bus.Master().Start(make([]byte, 10), make([]byte, 20))
	require.Error(t, err)

	_, err = bus.Master().Start(nil, nil)
	require.Error(t, err)
}
