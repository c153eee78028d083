// Package can defines the CanPort capability the bootloader engine
// depends on and the Frame type that flows across it. Concrete
// transports (SocketCAN, an in-memory loopback bus for tests) live in
// sub-packages and implement Port by wrapping a vendor CAN adapter
// SDK — that SDK itself is out of scope for this driver.
package can

import "time"

// Direction tags whether a Frame observed through OnFrame was
// transmitted by this host or received from the bus.
type Direction uint8

const (
	DirectionRX Direction = iota
	DirectionTX
)

// Frame is a single CAN frame. DLC is always 8 on this bus; unused
// trailing bytes are padded with 0xFF by the encoders, not by the
// transport.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
}

// FrameObserver receives every frame that crosses the bus, both sent
// and received, timestamped by the transport.
type FrameObserver interface {
	OnFrame(t time.Time, dir Direction, frame Frame)
}

// Port is the CanPort capability: the external collaborator contract
// every transport (SocketCAN, a vendor adapter SDK, an in-memory test
// bus) must satisfy. Opening, scanning and connecting to the
// underlying adapter hardware is the transport's concern, not the
// engine's.
type Port interface {
	// Connect opens the underlying adapter and starts delivering
	// frames to any subscribed FrameObserver.
	Connect() error
	// Disconnect closes the underlying adapter.
	Disconnect() error
	// Send transmits one frame. DLC must be 0..8.
	Send(frame Frame) error
	// Subscribe registers an observer for every frame crossing the
	// bus (both directions). Only one observer is supported; the
	// bootloader engine itself fans RX frames out to its internal
	// consumers (address observer, state machine).
	Subscribe(observer FrameObserver) error
	// IsConnected reports whether Connect has succeeded and
	// Disconnect has not yet been called.
	IsConnected() bool
	// StartTrace/StopTrace enable or disable the adapter's own frame
	// trace/logging, independent of FrameObserver delivery.
	StartTrace() error
	StopTrace() error
}
