package spilink

// TransferHandle identifies one started transfer on a channel adapter.
// Handles are never reused within the lifetime of an adapter, which lets the
// protocol state machines detect and discard stale completion events after
// an abort.
type TransferHandle uint64

// Completion is the single-fire completion notification for a started
// transfer, delivered on the adapter's completion channel.
type Completion struct {
	// Handle identifies the transfer this event belongs to.
	Handle TransferHandle

	// Err is nil on clean completion. A non-nil value is a transport-layer
	// fault (overrun, underrun, controller error) and maps to
	// OutcomeHardwareFault.
	Err error
}

// ChannelAdapter is the capability surface of the excluded hardware layer:
// a DMA-driven, fixed-length, full-duplex exchange engine.
//
// On the master side the adapter also owns chip-select and clock sequencing;
// on the slave side Start arms the buffer pair and the transfer runs when
// the master clocks the bus.
//
// At most one transfer may be active per adapter. Calling Start while a
// transfer is active is a programming error and returns ErrTransferActive;
// the calling state machine is responsible for never doing so.
type ChannelAdapter interface {
	// Start begins a full-duplex exchange of len(tx) bytes. It is
	// non-blocking and returns immediately. The tx and rx buffers are owned
	// by the adapter until the completion event for the returned handle is
	// observed (or the transfer is aborted); the caller must not touch them
	// in between.
	Start(tx, rx []byte) (TransferHandle, error)

	// Completions returns the channel on which completion events are
	// delivered, exactly once per started transfer that is not aborted.
	Completions() <-chan Completion

	// Abort cancels the transfer identified by handle, best effort. After
	// Abort returns, no completion for the handle will be delivered; if one
	// was already in flight, the caller must discard it as stale by
	// comparing handles.
	Abort(handle TransferHandle)
}
