package spilink

import (
	"sync"
)

// fakeAdapter is a scriptable in-process channel adapter. The onStart hook
// runs synchronously inside Start and decides how the attempt plays out:
// respond with a frame, fail, inject a stale completion, or stay silent so
// the caller times out.
type fakeAdapter struct {
	mu          sync.Mutex
	handleGen   uint64
	active      TransferHandle
	startErr    error
	startCount  int
	abortCount  int
	lastTx      []byte
	completions chan Completion

	onStart func(a *fakeAdapter, handle TransferHandle, tx, rx []byte)
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{completions: make(chan Completion, 8)}
}

func (a *fakeAdapter) Start(tx, rx []byte) (TransferHandle, error) {
	a.mu.Lock()

	if a.startErr != nil {
		err := a.startErr
		a.mu.Unlock()

		return 0, err
	}

	if a.active != 0 {
		a.mu.Unlock()

		return 0, ErrTransferActive
	}

	a.handleGen++
	handle := TransferHandle(a.handleGen)
	a.active = handle
	a.startCount++
	a.lastTx = append([]byte(nil), tx...)
	onStart := a.onStart
	a.mu.Unlock()

	if onStart != nil {
		onStart(a, handle, tx, rx)
	}

	return handle, nil
}

func (a *fakeAdapter) Completions() <-chan Completion {
	return a.completions
}

func (a *fakeAdapter) Abort(handle TransferHandle) {
	a.mu.Lock()
	if a.active == handle {
		a.active = 0
		a.abortCount++
	}
	a.mu.Unlock()
}

// complete finishes the transfer and fires its completion event.
func (a *fakeAdapter) complete(handle TransferHandle, err error) {
	a.mu.Lock()
	if a.active == handle {
		a.active = 0
	}
	a.mu.Unlock()

	a.completions <- Completion{Handle: handle, Err: err}
}

func (a *fakeAdapter) starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.startCount
}

func (a *fakeAdapter) aborts() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.abortCount
}

// respondWith returns an onStart hook that answers every attempt with an
// encoded frame carrying payload.
func respondWith(payload []byte) func(a *fakeAdapter, handle TransferHandle, tx, rx []byte) {
	return func(a *fakeAdapter, handle TransferHandle, tx, rx []byte) {
		frame, err := NewCodec(nil).Encode(payload)
		if err != nil {
			a.complete(handle, err)

			return
		}

		copy(rx, frame.Bytes())
		a.complete(handle, nil)
	}
}
