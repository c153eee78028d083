package bootloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/can"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/can/virtual"
)

type recordingSink struct {
	states   []string
	progress []uint32
	finished []bool
}

func (s *recordingSink) OnState(text string, _ Severity) { s.states = append(s.states, text) }
func (s *recordingSink) OnProgress(n uint32)              { s.progress = append(s.progress, n) }
func (s *recordingSink) OnFinished(ok bool)                { s.finished = append(s.finished, ok) }

func fixedKeyHook(seed []byte) [4]byte { return [4]byte{0xAA, 0xBB, 0xCC, 0xDD} }

func newTestEngine(t *testing.T) (*Engine, *virtual.Bus, *recordingSink, Identifiers) {
	t.Helper()
	bus := virtual.New()
	require.NoError(t, bus.Connect())
	ids := DefaultIdentifiers()
	ids.DeviceSA = 0x27
	sink := &recordingSink{}
	e := NewEngine(bus, WithEventSink(sink), WithIdentifiers(ids), WithSecurityHook(fixedKeyHook), WithTimeout(0))
	return e, bus, sink, ids
}

func injectRX(bus *virtual.Bus, id uint32, data [8]byte) {
	bus.Inject(can.Frame{ID: id, DLC: 8, Data: data})
}

func lastSent(t *testing.T, bus *virtual.Bus) can.Frame {
	t.Helper()
	sent := bus.Sent()
	require.NotEmpty(t, sent, "expected a transmitted frame")
	return sent[len(sent)-1]
}

func expectTX(t *testing.T, bus *virtual.Bus, want [8]byte) {
	t.Helper()
	assert.Equal(t, want, lastSent(t, bus).Data)
}

// TestEngineSessionEntry reproduces spec.md scenario 2.
func TestEngineSessionEntry(t *testing.T) {
	e, bus, _, ids := newTestEngine(t)
	require.NoError(t, e.SetFirmware(make([]byte, 8)))
	require.True(t, e.Start())
	expectTX(t, bus, [8]byte{0x02, 0x10, 0x02, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	injectRX(bus, ids.RxID(), [8]byte{0x02, 0x50, 0x02, 0x00, 0xFF, 0xFF, 0xFF, 0xFF})

	expectTX(t, bus, [8]byte{0x02, 0x27, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	assert.Equal(t, RequestSeed, e.State())
}

// TestEngineNegativeResponsePendingKeepsState reproduces spec.md
// scenario 3: NRC 0x78 must not advance the machine or emit any TX.
func TestEngineNegativeResponsePendingKeepsState(t *testing.T) {
	e, bus, _, ids := newTestEngine(t)
	require.NoError(t, e.SetFirmware(make([]byte, 8)))
	e.Start()
	injectRX(bus, ids.RxID(), [8]byte{0x02, 0x50, 0x02, 0x00, 0xFF, 0xFF, 0xFF, 0xFF})
	require.Equal(t, RequestSeed, e.State())
	sentBefore := len(bus.Sent())

	injectRX(bus, ids.RxID(), [8]byte{0x03, 0x7F, 0x27, 0x78, 0xFF, 0xFF, 0xFF, 0xFF})

	assert.Equal(t, RequestSeed, e.State())
	assert.Len(t, bus.Sent(), sentBefore, "a response-pending NRC must not trigger a TX")
}

// TestEngineWriteFingerprintStandalone reproduces spec.md scenario 5.
func TestEngineWriteFingerprintStandalone(t *testing.T) {
	e, bus, sink, ids := newTestEngine(t)

	require.NoError(t, e.WriteFingerprint(0xAA))
	expectTX(t, bus, [8]byte{0x04, 0x2E, 0xF1, 0xF0, 0xAA, 0xFF, 0xFF, 0xFF})

	injectRX(bus, ids.RxID(), [8]byte{0x04, 0x6E, 0xF1, 0xF0, 0xFF, 0xFF, 0xFF, 0xFF})

	assert.Equal(t, Ready, e.State())
	assert.NotEmpty(t, sink.states)
}

// TestEngineFullFlashMinimumCase drives the entire happy path over a
// 16-byte firmware image and checks every literal byte from spec.md
// scenario 4 (and the surrounding steps needed to reach it).
func TestEngineFullFlashMinimumCase(t *testing.T) {
	e, bus, sink, ids := newTestEngine(t)
	firmware := make([]byte, 16)
	for i := range firmware {
		firmware[i] = byte(i)
	}
	require.NoError(t, e.SetFirmware(firmware))
	rx := ids.RxID()

	require.True(t, e.Start())
	expectTX(t, bus, [8]byte{0x02, 0x10, 0x02, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	injectRX(bus, rx, [8]byte{0x02, 0x50, 0x02, 0x00, 0xFF, 0xFF, 0xFF, 0xFF})
	expectTX(t, bus, [8]byte{0x02, 0x27, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	injectRX(bus, rx, [8]byte{0x04, 0x67, 0x01, 0x11, 0x22, 0xFF, 0xFF, 0xFF})
	expectTX(t, bus, [8]byte{0x06, 0x27, 0x02, 0xAA, 0xBB, 0xCC, 0xDD, 0xFF})

	injectRX(bus, rx, [8]byte{0x03, 0x67, 0x02, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	expectTX(t, bus, [8]byte{0x04, 0x2E, 0xF1, 0xF0, 0xAA, 0xFF, 0xFF, 0xFF})

	injectRX(bus, rx, [8]byte{0x04, 0x6E, 0xF1, 0xF0, 0xFF, 0xFF, 0xFF, 0xFF})
	expectTX(t, bus, [8]byte{0x04, 0x31, 0x01, 0xFF, 0x00, 0xFF, 0xFF, 0xFF})

	injectRX(bus, rx, [8]byte{0x05, 0x71, 0x01, 0xFF, 0x00, 0xFF, 0xFF, 0xFF})
	expectTX(t, bus, [8]byte{0x10, 0x0B, 0x34, 0x00, 0x44, 0x00, 0x00, 0x00})
	require.Equal(t, RequestDownload, e.State())

	injectRX(bus, rx, [8]byte{0x30, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	expectTX(t, bus, [8]byte{0x21, 0x00, 0x00, 0x00, 0x00, 0x10, 0xFF, 0xFF})
	require.Equal(t, RequestDownloadConsecutive, e.State())

	injectRX(bus, rx, [8]byte{0x02, 0x74, 0x20, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	expectTX(t, bus, [8]byte{0x10, 0x12, 0x36, 0x01, 0x00, 0x01, 0x02, 0x03})
	require.Equal(t, TransferDataFF, e.State())

	sentBefore := len(bus.Sent())
	injectRX(bus, rx, [8]byte{0x30, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	sent := bus.Sent()
	require.Len(t, sent, sentBefore+2, "expected both CFs after flow control")
	assert.Equal(t, [8]byte{0x21, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}, sent[sentBefore].Data)
	assert.Equal(t, [8]byte{0x22, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0xFF, 0xFF}, sent[sentBefore+1].Data)
	require.Equal(t, TransferDataCF, e.State())

	injectRX(bus, rx, [8]byte{0x02, 0x76, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	expectTX(t, bus, [8]byte{0x01, 0x37, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	require.Equal(t, RequestTransferExit, e.State())

	injectRX(bus, rx, [8]byte{0x02, 0x77, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	assert.Equal(t, Ready, e.State())
	require.Len(t, sink.finished, 1)
	assert.True(t, sink.finished[0])
	assert.EqualValues(t, 16, e.BytesSent())
}

// TestEngineTransportErrorAborts exercises the TransportError path: a
// Send rejection must abort to ERROR and emit finished(false), never
// leaving the machine stuck mid-flash.
func TestEngineTransportErrorAborts(t *testing.T) {
	e, bus, sink, _ := newTestEngine(t)
	require.NoError(t, e.SetFirmware(make([]byte, 8)))
	bus.Disconnect() // Send now returns can.ErrNotConnected
	require.True(t, e.Start())
	assert.Equal(t, Error, e.State())
	require.Len(t, sink.finished, 1)
	assert.False(t, sink.finished[0])
}

// TestEngineStateConfinement checks that no command can push the
// engine into a second flashing state while one is already active.
func TestEngineStateConfinement(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	require.NoError(t, e.SetFirmware(make([]byte, 8)))
	e.Start()
	assert.False(t, e.Start(), "second Start should have been rejected")
	assert.ErrorIs(t, e.CheckState(), ErrPrecondition)
}
