// Package virtual implements an in-process loopback CAN bus used by
// tests and by dry runs of the bootloader CLI. It is the in-memory
// analogue of gocanopen's pkg/can/virtual TCP bus: instead of dialing
// a broker process, frames injected with Inject are delivered
// straight to the subscribed observer, and frames Sent are recorded
// for assertions.
package virtual

import (
	"sync"
	"time"

	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/can"
)

// Bus is a in-memory can.Port: everything sent through it is appended
// to Sent, and RX traffic a test wants to simulate is delivered via
// Inject.
type Bus struct {
	mu        sync.Mutex
	connected bool
	observer  can.FrameObserver
	sent      []can.Frame
}

// New creates a disconnected virtual bus.
func New() *Bus {
	return &Bus{}
}

func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *Bus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bus) StartTrace() error { return nil }
func (b *Bus) StopTrace() error  { return nil }

func (b *Bus) Subscribe(observer can.FrameObserver) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = observer
	return nil
}

// Send records the frame and, if an observer is subscribed, reports
// it as a TX frame, the way a real CAN transceiver loops back one's
// own traffic. The bootloader engine ignores TX-direction frames.
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return can.ErrNotConnected
	}
	b.sent = append(b.sent, frame)
	observer := b.observer
	b.mu.Unlock()
	if observer != nil {
		observer.OnFrame(time.Now(), can.DirectionTX, frame)
	}
	return nil
}

// Sent returns every frame handed to Send so far, in order.
func (b *Bus) Sent() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]can.Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

// Inject delivers a synthetic RX frame to the subscribed observer, as
// if it had arrived from the physical bus.
func (b *Bus) Inject(frame can.Frame) {
	b.mu.Lock()
	observer := b.observer
	b.mu.Unlock()
	if observer != nil {
		observer.OnFrame(time.Now(), can.DirectionRX, frame)
	}
}
