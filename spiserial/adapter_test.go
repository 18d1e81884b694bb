package spiserial

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/arloliu/go-spilink/spilink"
)

// fakePort is an in-memory serial.Port. Bytes written are captured; bytes
// to be read are preloaded with feed.
type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	toRead  bytes.Buffer
	closed  bool
}

func (p *fakePort) feed(data []byte) {
	p.mu.Lock()
	p.toRead.Write(data)
	p.mu.Unlock()
}

func (p *fakePort) writtenBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]byte(nil), p.written.Bytes()...)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return 0, io.EOF
	}

	if p.toRead.Len() == 0 {
		p.mu.Unlock()
		// Emulate an expired read deadline.
		time.Sleep(time.Millisecond)

		return 0, nil
	}

	n, err := p.toRead.Read(b)
	p.mu.Unlock()

	return n, err
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	return nil
}

func (p *fakePort) SetMode(*serial.Mode) error                        { return nil }
func (p *fakePort) SetReadTimeout(time.Duration) error                { return nil }
func (p *fakePort) Drain() error                                      { return nil }
func (p *fakePort) ResetInputBuffer() error                           { return nil }
func (p *fakePort) ResetOutputBuffer() error                          { return nil }
func (p *fakePort) SetDTR(bool) error                                 { return nil }
func (p *fakePort) SetRTS(bool) error                                 { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (p *fakePort) Break(time.Duration) error                         { return nil }

func TestAdapterExchange(t *testing.T) {
	port := &fakePort{}

	reply := make([]byte, spilink.FrameSize)
	for i := range reply {
		reply[i] = byte(i)
	}
	port.feed(reply)

	a := NewAdapter(port)
	t.Cleanup(func() { _ = a.Close() })

	tx := make([]byte, spilink.FrameSize)
	rx := make([]byte, spilink.FrameSize)
	for i := range tx {
		tx[i] = 0xA5
	}

	handle, err := a.Start(tx, rx)
	require.NoError(t, err)

	select {
	case comp := <-a.Completions():
		require.NoError(t, comp.Err)
		assert.Equal(t, handle, comp.Handle)
	case <-time.After(time.Second):
		t.Fatal("no completion within 1s")
	}

	assert.Equal(t, tx, port.writtenBytes())
	assert.Equal(t, reply, rx)
}

func TestAdapterStartWhileActive(t *testing.T) {
	a := NewAdapter(&fakePort{})
	t.Cleanup(func() { _ = a.Close() })

	buf := make([]byte, spilink.FrameSize)
	_, err := a.Start(buf, make([]byte, spilink.FrameSize))
	require.NoError(t, err)

	_, err = a.Start(buf, make([]byte, spilink.FrameSize))
	require.ErrorIs(t, err, spilink.ErrTransferActive)
}

func TestAdapterAbortSuppressesCompletion(t *testing.T) {
	// No reply data: the exchange blocks on reads until aborted.
	a := NewAdapter(&fakePort{})
	t.Cleanup(func() { _ = a.Close() })

	handle, err := a.Start(make([]byte, spilink.FrameSize), make([]byte, spilink.FrameSize))
	require.NoError(t, err)

	a.Abort(handle)

	select {
	case comp := <-a.Completions():
		t.Fatalf("completion %v delivered after abort", comp.Handle)
	case <-time.After(100 * time.Millisecond):
	}

	// The channel is free for the next transfer.
	_, err = a.Start(make([]byte, spilink.FrameSize), make([]byte, spilink.FrameSize))
	require.NoError(t, err)
}

func TestAdapterStartAfterClose(t *testing.T) {
	a := NewAdapter(&fakePort{})
	require.NoError(t, a.Close())

	_, err := a.Start(make([]byte, spilink.FrameSize), make([]byte, spilink.FrameSize))
	require.ErrorIs(t, err, ErrClosed)
}

func TestAdapterBufferValidation(t *testing.T) {
	a := NewAdapter(&fakePort{})
	t.Cleanup(func() { _ = a.Close() })

	_, err := a.Start(make([]byte, 10), make([]byte, 20))
	require.Error(t, err)

	_, err = a.Start(nil, nil)
	require.Error(t, err)
}
