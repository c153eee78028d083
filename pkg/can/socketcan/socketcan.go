// Package socketcan implements can.Port on top of Linux SocketCAN via
// github.com/brutella/can, the same dependency gocanopen's
// cmd/canopen wraps for its own socketcan bus.
package socketcan

import (
	"sync"
	"time"

	brutella "github.com/brutella/can"

	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/can"
)

// Bus adapts a brutella/can socketcan bus to can.Port.
type Bus struct {
	mu        sync.Mutex
	channel   string
	bus       *brutella.Bus
	observer  can.FrameObserver
	connected bool
}

// New opens (but does not yet Connect) a SocketCAN bus on the given
// interface name, e.g. "can0" or "vcan0".
func New(channel string) (*Bus, error) {
	bus, err := brutella.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, err
	}
	return &Bus{channel: channel, bus: bus}, nil
}

// Handle implements brutella/can's frame-handler interface.
func (b *Bus) Handle(frame brutella.Frame) {
	b.mu.Lock()
	observer := b.observer
	b.mu.Unlock()
	if observer == nil {
		return
	}
	observer.OnFrame(time.Now(), can.DirectionRX, fromBrutella(frame))
}

func (b *Bus) Connect() error {
	go b.bus.ConnectAndPublish()
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return b.bus.Disconnect()
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
	b.observer = observer
	b.mu.Unlock()
	b.bus.Subscribe(b)
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	if !b.IsConnected() {
		return can.ErrNotConnected
	}
	err := b.bus.Publish(toBrutella(frame))
	if err != nil {
		return err
	}
	b.mu.Lock()
	observer := b.observer
	b.mu.Unlock()
	if observer != nil {
		observer.OnFrame(time.Now(), can.DirectionTX, frame)
	}
	return nil
}

func toBrutella(frame can.Frame) brutella.Frame {
	return brutella.Frame{ID: frame.ID, Length: frame.DLC, Data: frame.Data}
}

func fromBrutella(frame brutella.Frame) can.Frame {
	return can.Frame{ID: frame.ID, DLC: frame.Length, Data: frame.Data}
}
