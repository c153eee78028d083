package bootloader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/can"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/isotp"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/observer"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/uds"
)

// SecurityHook computes the SecurityAccess key from the ECU's seed.
// The actual algorithm is target-specific and deliberately out of
// scope here: callers supply it via WithSecurityHook.
type SecurityHook func(seed []byte) [4]byte

// defaultSecurityHook is a placeholder identity-ish transform so an
// Engine is usable out of the box against a bench ECU that accepts
// any key derived deterministically from the seed. Production use
// always supplies WithSecurityHook.
func defaultSecurityHook(seed []byte) [4]byte {
	var key [4]byte
	for i := range key {
		if i < len(seed) {
			key[i] = ^seed[i]
		}
	}
	return key
}

// Engine is the bootloader state machine: it owns the ISO-TP transfer
// state and the address observer (spec's ownership rule), and is the
// only component that transmits on the CAN port. All public methods
// and the frame-observer callback serialize on mu, which is this
// engine's stand-in for the single-threaded cooperative event loop —
// the state machine body never runs concurrently with itself.
type Engine struct {
	mu sync.Mutex

	port     can.Port
	sink     EventSink
	saSink   SourceAddressSink
	security SecurityHook

	ids              Identifiers
	fingerprintValue uint8
	eraseRoutineID   uint16
	downloadAddress  uint32
	transferOrder    uds.ByteOrder
	timeout          time.Duration
	activeVariable   uds.Variable

	state    State
	flashing bool
	firmware []byte
	seed     []byte

	dlSeg    *isotp.Segmenter
	transfer *transferState
	bytesSent uint32

	obs      *observer.Table
	timer    *time.Timer
	timerGen int
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithEventSink(sink EventSink) Option          { return func(e *Engine) { e.sink = sink } }
func WithSourceAddressSink(s SourceAddressSink) Option { return func(e *Engine) { e.saSink = s } }
func WithIdentifiers(ids Identifiers) Option       { return func(e *Engine) { e.ids = ids } }
func WithSecurityHook(fn SecurityHook) Option      { return func(e *Engine) { e.security = fn } }
func WithFingerprintValue(v uint8) Option          { return func(e *Engine) { e.fingerprintValue = v } }
func WithEraseRoutineID(id uint16) Option          { return func(e *Engine) { e.eraseRoutineID = id } }
func WithDownloadAddress(addr uint32) Option       { return func(e *Engine) { e.downloadAddress = addr } }
func WithTransferByteOrder(o uds.ByteOrder) Option { return func(e *Engine) { e.transferOrder = o } }
func WithTimeout(d time.Duration) Option           { return func(e *Engine) { e.timeout = d } }

// NewEngine builds an idle Engine in state Ready and subscribes it to
// port as the port's sole FrameObserver.
func NewEngine(port can.Port, opts ...Option) *Engine {
	e := &Engine{
		port:             port,
		sink:             nullSink{},
		ids:              DefaultIdentifiers(),
		security:         defaultSecurityHook,
		fingerprintValue: 0xAA,
		eraseRoutineID:   0xFF00,
		transferOrder:    uds.ByteOrderBig,
		timeout:          time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.obs = observer.New(e.ids.TesterSA)
	port.Subscribe(e)
	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// BytesSent returns the number of firmware bytes acknowledged by the
// ECU so far in the current (or most recently completed) transfer.
func (e *Engine) BytesSent() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bytesSent
}

// ObserverCandidates returns every source address seen on the bus so
// far, in first-seen order.
func (e *Engine) ObserverCandidates() []uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.obs.Candidates()
}

// BestTesterSA returns the address observer's best guess at the
// tester source address corresponding to deviceSA.
func (e *Engine) BestTesterSA(deviceSA uint8) (uint8, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.obs.BestTesterSA(deviceSA)
}

// ApplySourceAddresses atomically swaps the TX/RX identifier
// configuration. Rejected while a flash is in progress.
func (e *Engine) ApplySourceAddresses(deviceSA, testerSA uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.isFlashingState() {
		return ErrPrecondition
	}
	e.ids.DeviceSA = deviceSA
	e.ids.TesterSA = testerSA
	e.obs.SetCurrentTesterSA(testerSA)
	if e.saSink != nil {
		e.saSink.OnSourceAddressApplied(deviceSA, testerSA)
	}
	return nil
}

// SetFirmware loads the image to flash. Requires state == Ready.
func (e *Engine) SetFirmware(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		e.sink.OnState("set firmware: engine not ready", SeverityBad)
		return ErrPrecondition
	}
	e.firmware = data
	return nil
}

// SetTransferByteOrder changes the RequestDownload length-field byte
// order. Unlike most commands this is accepted in any state, since it
// only affects the next RequestDownload this engine sends.
func (e *Engine) SetTransferByteOrder(order uds.ByteOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transferOrder = order
}

// SetEraseRoutineID overrides the RoutineControl routine identifier
// used to erase firmware.
func (e *Engine) SetEraseRoutineID(id uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eraseRoutineID = id
}

// SetDownloadAddress overrides the memory address RequestDownload
// targets.
func (e *Engine) SetDownloadAddress(addr uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.downloadAddress = addr
}

// Start begins the full flash sequence: session, security access,
// fingerprint, erase, download, transfer, exit. Requires
// state == Ready and a loaded firmware image.
func (e *Engine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready || len(e.firmware) == 0 {
		e.sink.OnState("start: engine not ready or no firmware loaded", SeverityBad)
		return false
	}
	e.flashing = true
	e.transfer = nil
	e.dlSeg = nil
	e.bytesSent = 0
	e.enterState(SetProgrammingSession)
	e.send(uds.DiagnosticSessionControlRequest(uds.SessionProgramming))
	return true
}

// WriteFingerprint sends a standalone WriteDataByIdentifier for the
// fingerprint DID, outside of the full flash sequence. Requires
// state == Ready.
func (e *Engine) WriteFingerprint(value uint8) error {
	return e.WriteVariable(uds.Fingerprint, uint32(value))
}

// WriteVariable sends a standalone WriteDataByIdentifier for any DID,
// not only the well-known fingerprint one — an operator can configure
// an arbitrary (pid, size) pair. Requires state == Ready.
func (e *Engine) WriteVariable(v uds.Variable, value uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return ErrPrecondition
	}
	frame, err := uds.WriteDataByIdentifierRequest(v, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	if v == uds.Fingerprint {
		e.fingerprintValue = uint8(value)
	}
	e.activeVariable = v
	e.enterState(WriteFingerprint)
	e.send(frame)
	return nil
}

// CheckState reads the fingerprint DID back from the ECU, the way the
// UI polls whether the target is already running bootloader firmware.
func (e *Engine) CheckState() error {
	return e.ReadVariable(uds.Fingerprint)
}

// ReadVariable reads any DID back from the ECU, not only the
// well-known fingerprint one.
func (e *Engine) ReadVariable(v uds.Variable) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.isFlashingState() {
		return ErrPrecondition
	}
	e.activeVariable = v
	e.enterState(ReadFingerprint)
	e.send(uds.ReadDataByIdentifierRequest(v))
	return nil
}

// EcuUdsReset issues ECUReset with sub-function uds.SubUdsReset (0x02).
func (e *Engine) EcuUdsReset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.isFlashingState() {
		return ErrPrecondition
	}
	e.enterState(EcuUdsReset)
	e.send(uds.ECUResetRequest(uds.SubUdsReset))
	return nil
}

// EcuSoftwareReset issues ECUReset with sub-function uds.SubSoftReset (0x01).
func (e *Engine) EcuSoftwareReset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.isFlashingState() {
		return ErrPrecondition
	}
	e.enterState(EcuSoftwareReset)
	e.send(uds.ECUResetRequest(uds.SubSoftReset))
	return nil
}

// OnFrame implements can.FrameObserver. It feeds every RX frame to the
// address observer and, when the identifier matches the configured
// UDS RX identifier, to the state machine.
func (e *Engine) OnFrame(_ time.Time, dir can.Direction, frame can.Frame) {
	if dir != can.DirectionRX {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs.Observe(frame.ID)
	if e.saSink != nil {
		e.saSink.OnObserverUpdated(e.obs.Candidates())
	}
	if frame.ID != e.ids.RxID() {
		return
	}
	e.handleUDSFrame(frame.Data[:])
}

// handleUDSFrame dispatches one UDS response to the handler for the
// current state. Must be called with mu held.
func (e *Engine) handleUDSFrame(data []byte) {
	switch e.state {
	case SetProgrammingSession:
		e.step(uds.VerifyDiagnosticSessionControl(data, uds.SessionProgramming), func() {
			e.enterState(RequestSeed)
			e.send(uds.RequestSeedRequest())
		})

	case RequestSeed:
		seed, err := uds.VerifyRequestSeed(data)
		e.step(err, func() {
			e.seed = seed
			key := e.security(seed)
			e.enterState(SeedVerification)
			e.send(uds.SendKeyRequest(key))
		})

	case SeedVerification:
		e.step(uds.VerifySendKey(data), func() {
			e.activeVariable = uds.Fingerprint
			e.enterState(WriteFingerprint)
			e.send(uds.WriteFingerprintRequest(e.fingerprintValue))
		})

	case WriteFingerprint:
		e.step(uds.VerifyWriteDataByIdentifier(data, e.activeVariable), func() {
			if e.flashing {
				e.enterState(EraseFirmware)
				e.send(uds.EraseFirmwareRequest(e.eraseRoutineID))
			} else {
				e.sink.OnState("fingerprint written", SeverityGood)
				e.enterState(Ready)
			}
		})

	case EraseFirmware:
		e.step(uds.VerifyEraseFirmware(data, e.eraseRoutineID), func() {
			e.beginRequestDownload()
		})

	case RequestDownload:
		e.handleFlowControl(data, e.dlSeg, func() {
			e.enterState(RequestDownloadConsecutive)
		})

	case RequestDownloadConsecutive:
		e.step(uds.VerifyRequestDownload(data), func() {
			e.dlSeg = nil
			e.transfer = newTransferState(e.firmware)
			e.beginNextBlock()
		})

	case TransferDataFF:
		e.handleFlowControl(data, e.transfer.seg, func() {
			e.enterState(TransferDataCF)
		})

	case TransferDataCF:
		seqID := e.transfer.seqID
		e.step(uds.VerifyTransferDataBlock(data, seqID), func() {
			blockLen := e.transfer.seg.TotalLen() - 2 // strip `36 <seq>` prefix
			e.transfer.advanceBlock(blockLen)
			e.bytesSent = uint32(e.transfer.cursor)
			e.sink.OnProgress(e.bytesSent)
			if e.transfer.done() {
				e.enterState(RequestTransferExit)
				e.send(uds.RequestTransferExitRequest())
			} else {
				e.beginNextBlock()
			}
		})

	case RequestTransferExit:
		e.step(uds.VerifyRequestTransferExit(data), func() {
			e.finish()
		})

	case ReadFingerprint:
		value, err := uds.VerifyReadDataByIdentifier(data, e.activeVariable)
		if err != nil && isResponsePending(err) {
			e.resetTimer()
			return
		}
		if err != nil {
			e.sink.OnState(err.Error(), SeverityBad)
		} else {
			e.sink.OnState(fmt.Sprintf("did 0x%04X read: %d", e.activeVariable.PID, value), SeverityGood)
		}
		e.enterState(Ready)

	case EcuUdsReset:
		e.finishStandaloneReset(uds.VerifyECUReset(data, uds.SubUdsReset))

	case EcuSoftwareReset:
		e.finishStandaloneReset(uds.VerifyECUReset(data, uds.SubSoftReset))

	default:
		// Ready, Done, Error: no response is expected, ignore.
	}
}

// beginRequestDownload enters RequestDownload and sends its (possibly
// multi-frame) UDS payload's First Frame.
func (e *Engine) beginRequestDownload() {
	e.enterState(RequestDownload)
	payload := uds.RequestDownloadPayload(e.downloadAddress, uint32(len(e.firmware)), e.transferOrder)
	e.dlSeg = isotp.NewSegmenter(payload)
	frame, err := e.dlSeg.FirstFrame()
	if err != nil {
		e.fail(fmt.Errorf("%w: %v", ErrEncoding, err))
		return
	}
	e.send(frame)
}

// beginNextBlock starts transmitting the next TransferData block.
func (e *Engine) beginNextBlock() {
	payload := e.transfer.nextBlockPayload()
	seg := isotp.NewSegmenter(payload)
	e.transfer.seg = seg
	frame, err := seg.FirstFrame()
	if err != nil {
		e.fail(fmt.Errorf("%w: %v", ErrEncoding, err))
		return
	}
	e.enterState(TransferDataFF)
	e.send(frame)
}

// handleFlowControl parses an incoming Flow Control frame, applies it
// to seg, and starts pumping out Consecutive Frames until the transfer
// completes (calling onDone), the negotiated block size pauses it
// (awaiting another Flow Control in the same state), or an error
// aborts the flash.
func (e *Engine) handleFlowControl(data []byte, seg *isotp.Segmenter, onDone func()) {
	if isotp.KindOf(data) != isotp.KindFlowControl {
		e.fail(fmt.Errorf("%w: expected flow control frame", ErrProtocol))
		return
	}
	fc, err := isotp.ParseFlowControl(data)
	if err != nil {
		e.fail(fmt.Errorf("%w: %v", ErrProtocol, err))
		return
	}
	switch fc.Status {
	case isotp.FCOverflow:
		e.fail(fmt.Errorf("%w: flow control overflow", ErrProtocol))
		return
	case isotp.FCWait:
		e.resetTimer()
		return
	}
	seg.ApplyFlowControl(fc)
	e.pumpConsecutiveFrame(seg, onDone)
}

// pumpConsecutiveFrame sends the next Consecutive Frame of seg. If the
// negotiated STmin is non-zero, the following CF is scheduled via a
// timer rather than sent back-to-back (spec.md §4.3/§5: STmin delay is
// a scheduled wake-up, never a blocking sleep, and this engine must
// never run its own body concurrently with itself). A stale pump whose
// engine has since transitioned away is detected via timerGen and
// dropped instead of emitting frames for a dead transfer.
func (e *Engine) pumpConsecutiveFrame(seg *isotp.Segmenter, onDone func()) {
	if seg.Done() {
		onDone()
		return
	}
	frame, awaitFC, _, err := seg.NextConsecutiveFrame()
	if err != nil {
		e.fail(fmt.Errorf("%w: %v", ErrEncoding, err))
		return
	}
	e.send(frame)
	if e.state == Error {
		return
	}
	if awaitFC {
		e.resetTimer()
		return
	}
	if seg.Done() {
		onDone()
		return
	}
	stMin := seg.STmin()
	if stMin <= 0 {
		e.pumpConsecutiveFrame(seg, onDone)
		return
	}
	gen := e.timerGen
	time.AfterFunc(stMin, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.timerGen != gen {
			return
		}
		e.pumpConsecutiveFrame(seg, onDone)
	})
}

// finishStandaloneReset handles the shared tail of EcuUdsReset and
// EcuSoftwareReset: neither is part of a flash, so failure just logs
// and returns to Ready instead of transitioning to Error.
func (e *Engine) finishStandaloneReset(err error) {
	if err != nil && isResponsePending(err) {
		e.resetTimer()
		return
	}
	if err != nil {
		e.sink.OnState(err.Error(), SeverityBad)
	} else {
		e.sink.OnState("ecu reset acknowledged", SeverityGood)
	}
	e.enterState(Ready)
}

// step is the shared negative-response/0x78/structural-error
// dispatcher every flashing-state handler funnels through: 0x78
// restarts the timeout without advancing, any other error aborts the
// flash, success invokes onOK.
func (e *Engine) step(err error, onOK func()) {
	if err != nil {
		if isResponsePending(err) {
			e.resetTimer()
			return
		}
		var neg *uds.NegativeResponse
		if errors.As(err, &neg) {
			e.fail(fmt.Errorf("%w: %v", ErrNegativeResponse, err))
			return
		}
		e.fail(fmt.Errorf("%w: %v", ErrProtocol, err))
		return
	}
	onOK()
}

func isResponsePending(err error) bool {
	var neg *uds.NegativeResponse
	if errors.As(err, &neg) {
		return neg.NRC == uds.NRCRequestCorrectlyReceivedResponsePending
	}
	return false
}

// enterState transitions the engine, reports it, and arms the
// response timer for the new state. Must be called with mu held.
func (e *Engine) enterState(s State) {
	e.state = s
	e.sink.OnState(s.String(), SeverityInfo)
	e.resetTimer()
}

// fail aborts the current flash: transitions to Error, reports
// failure, and discards transfer state.
func (e *Engine) fail(err error) {
	e.state = Error
	e.sink.OnState(err.Error(), SeverityBad)
	e.sink.OnFinished(false)
	e.transfer = nil
	e.dlSeg = nil
	e.flashing = false
	e.stopTimer()
}

// finish completes a successful flash and returns to Ready.
func (e *Engine) finish() {
	e.state = Ready
	e.sink.OnState(Ready.String(), SeverityInfo)
	e.sink.OnFinished(true)
	e.transfer = nil
	e.dlSeg = nil
	e.flashing = false
	e.stopTimer()
}

// send transmits one UDS frame on the configured TX identifier. A
// rejected send aborts the flash with ErrTransport.
func (e *Engine) send(data [8]byte) {
	err := e.port.Send(can.Frame{ID: e.ids.TxID(), DLC: 8, Data: data})
	if err != nil {
		e.fail(fmt.Errorf("%w: %v", ErrTransport, err))
	}
}

// resetTimer (re)arms the per-state response timeout. A stale timer
// firing after the engine has since moved on is ignored via the
// generation counter.
func (e *Engine) resetTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerGen++
	gen := e.timerGen
	if e.timeout <= 0 {
		return
	}
	e.timer = time.AfterFunc(e.timeout, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.timerGen != gen {
			return
		}
		if e.state == Ready || e.state == Error || e.state == Done {
			return
		}
		e.fail(ErrTimeout)
	})
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}
