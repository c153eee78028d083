package isotp

import (
	"errors"

	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/internal/ring"
)

// ErrWrongSequence is returned when a Consecutive Frame's sequence
// number does not match the expected next value.
var ErrWrongSequence = errors.New("isotp: consecutive frame out of sequence")

// ErrNoTransferInProgress is returned when a Consecutive Frame arrives
// without a preceding First Frame.
var ErrNoTransferInProgress = errors.New("isotp: consecutive frame with no first frame")

// Reassembler drives the receive side of one ISO-TP transfer: it
// accumulates First Frame + Consecutive Frame payloads into a
// complete buffer, verifying strict sequence-number monotonicity. The
// N_Cr inter-frame timeout is the caller's responsibility, since
// Reassembler has no clock of its own.
type Reassembler struct {
	buf        *ring.Buffer
	totalLen   int
	expectedSN uint8
	active     bool
}

// NewReassembler creates an idle Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Active reports whether a First Frame has been seen and the
// Reassembler is waiting on further Consecutive Frames.
func (r *Reassembler) Active() bool { return r.active }

// Reset aborts any in-progress reassembly, e.g. when the caller's N_Cr
// timer expires.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.totalLen = 0
	r.expectedSN = 0
	r.active = false
}

// OnFirstFrame starts reassembly from a First Frame and returns the
// Flow Control frame the caller should transmit in reply: CTS with
// BS=0 (unlimited) and STmin=0, per spec.md's reassembly rule.
func (r *Reassembler) OnFirstFrame(data []byte) (flowControl [8]byte, err error) {
	hdr, err := ParseFirstFrame(data)
	if err != nil {
		return [8]byte{}, err
	}
	r.totalLen = hdr.TotalLen
	r.buf = ring.New(hdr.TotalLen + 1)
	n := len(hdr.Data)
	if n > hdr.TotalLen {
		n = hdr.TotalLen
	}
	r.buf.Write(hdr.Data[:n])
	r.expectedSN = 1
	r.active = true
	return BuildFlowControl(FCClearToSend, 0, 0), nil
}

// OnConsecutiveFrame folds one Consecutive Frame into the in-progress
// transfer. done is true once totalLen bytes have been accumulated,
// at which point payload holds the full reassembled transfer.
func (r *Reassembler) OnConsecutiveFrame(data []byte) (done bool, payload []byte, err error) {
	if !r.active {
		return false, nil, ErrNoTransferInProgress
	}
	hdr, err := ParseConsecutiveFrame(data)
	if err != nil {
		r.active = false
		return false, nil, err
	}
	if hdr.SN != r.expectedSN {
		r.active = false
		return false, nil, ErrWrongSequence
	}
	remaining := r.totalLen - r.buf.Occupied()
	n := len(hdr.Data)
	if n > remaining {
		n = remaining
	}
	r.buf.Write(hdr.Data[:n])
	r.expectedSN = NextSN(r.expectedSN)
	if r.buf.Occupied() >= r.totalLen {
		payload = r.buf.Bytes()
		r.active = false
		return true, payload, nil
	}
	return false, nil, nil
}
