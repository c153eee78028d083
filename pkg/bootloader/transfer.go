package bootloader

import (
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/isotp"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/uds"
)

// transferState is the ISO-TP Transfer State record spec.md assigns
// exclusively to the state machine: it tracks how much of the
// firmware image the ECU has acknowledged in TransferData blocks so
// far, and drives the isotp.Segmenter that carries the block currently
// in flight.
type transferState struct {
	firmware []byte
	cursor   int // bytes of firmware in blocks the ECU has acknowledged
	seqID    uint8
	seg      *isotp.Segmenter
}

func newTransferState(firmware []byte) *transferState {
	return &transferState{firmware: firmware, seqID: 1}
}

func (t *transferState) remaining() int {
	return len(t.firmware) - t.cursor
}

func (t *transferState) done() bool {
	return t.remaining() <= 0
}

// nextBlockPayload slices out the next TransferData block (capped at
// uds.MaxBlockPayload bytes) and returns its UDS payload, ready to
// be segmented.
func (t *transferState) nextBlockPayload() []byte {
	n := t.remaining()
	if n > uds.MaxBlockPayload {
		n = uds.MaxBlockPayload
	}
	block := t.firmware[t.cursor : t.cursor+n]
	return uds.TransferDataBlockPayload(t.seqID, block)
}

func (t *transferState) advanceBlock(blockLen int) {
	t.cursor += blockLen
	t.seqID++
}
