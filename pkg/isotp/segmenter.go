package isotp

import "time"

// Segmenter drives the transmit side of one ISO-TP transfer: it holds
// the payload, the cursor of bytes already placed on the wire, the
// next consecutive-frame sequence number, and the block size/STmin
// negotiated by the most recent Flow Control. It does not itself send
// frames or wait on timers — the bootloader engine owns the CAN port
// and the clock (see spec.md's concurrency model); Segmenter only
// knows how to produce the next frame.
type Segmenter struct {
	payload       []byte
	cursor        int
	sn            uint8
	blockSize     uint8
	stMin         time.Duration
	framesSinceFC uint8
}

// NewSegmenter creates a Segmenter for payload. Sequence numbering
// starts at 1, as ISO-TP requires for the first Consecutive Frame
// following a First Frame.
func NewSegmenter(payload []byte) *Segmenter {
	return &Segmenter{payload: payload, sn: 1}
}

// TotalLen returns the full payload length.
func (s *Segmenter) TotalLen() int { return len(s.payload) }

// FirstFrame returns the frame to place on the wire first: a Single
// Frame if the whole payload fits in 7 bytes, otherwise a First Frame
// carrying up to its first 6 bytes.
func (s *Segmenter) FirstFrame() ([8]byte, error) {
	if len(s.payload) <= 7 {
		frame, err := BuildSingleFrame(s.payload)
		s.cursor = len(s.payload)
		return frame, err
	}
	n := 6
	if n > len(s.payload) {
		n = len(s.payload)
	}
	frame, err := BuildFirstFrame(len(s.payload), s.payload[:n])
	if err != nil {
		return frame, err
	}
	s.cursor = n
	return frame, nil
}

// Done reports whether every payload byte has already been placed
// into a frame returned by FirstFrame/NextConsecutiveFrame.
func (s *Segmenter) Done() bool { return s.cursor >= len(s.payload) }

// ApplyFlowControl records the block size and separation time
// negotiated by an incoming Flow Control frame and resets the
// within-block frame counter.
func (s *Segmenter) ApplyFlowControl(fc FlowControl) {
	s.blockSize = fc.BlockSize
	s.stMin = fc.STmin
	s.framesSinceFC = 0
}

// STmin returns the inter-frame gap to honor before the next
// Consecutive Frame, as negotiated by the last Flow Control.
func (s *Segmenter) STmin() time.Duration { return s.stMin }

// NextConsecutiveFrame returns the next Consecutive Frame to transmit.
// awaitFC is true when the block size negotiated by the last Flow
// Control has just been reached and a new Flow Control must be
// awaited before any further frame is sent. done is true once the
// entire payload has been placed on the wire.
func (s *Segmenter) NextConsecutiveFrame() (frame [8]byte, awaitFC bool, done bool, err error) {
	if s.Done() {
		return [8]byte{}, false, true, nil
	}
	n := 7
	if remaining := len(s.payload) - s.cursor; n > remaining {
		n = remaining
	}
	frame, err = BuildConsecutiveFrame(s.sn, s.payload[s.cursor:s.cursor+n])
	if err != nil {
		return
	}
	s.cursor += n
	s.sn = NextSN(s.sn)
	s.framesSinceFC++
	done = s.Done()
	if !done && s.blockSize > 0 && s.framesSinceFC >= s.blockSize {
		awaitFC = true
		s.framesSinceFC = 0
	}
	return
}
