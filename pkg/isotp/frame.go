// Package isotp implements the ISO 15765-2 transport layer: encoding
// and parsing of Single/First/Consecutive/Flow-Control frames, a
// Segmenter the bootloader engine uses to carry UDS requests larger
// than 7 bytes over 8-byte CAN frames, and a Reassembler for the
// receive side of such transfers, which the engine does not use.
package isotp

import (
	"errors"
	"time"
)

// Kind is the ISO-TP frame type, carried in the high nibble of byte 0.
type Kind uint8

const (
	KindSingle       Kind = 0x0
	KindFirst        Kind = 0x1
	KindConsecutive  Kind = 0x2
	KindFlowControl  Kind = 0x3
)

// FCStatus is the flow-status nibble of a Flow Control frame.
type FCStatus uint8

const (
	FCClearToSend FCStatus = 0x0
	FCWait        FCStatus = 0x1
	FCOverflow    FCStatus = 0x2
)

var (
	ErrFramePadding   = errors.New("isotp: frame shorter than 8 bytes")
	ErrNotFlowControl = errors.New("isotp: frame is not a flow control frame")
	ErrNotFirstFrame  = errors.New("isotp: frame is not a first frame")
	ErrNotConsecutive = errors.New("isotp: frame is not a consecutive frame")
	ErrPayloadTooLong = errors.New("isotp: payload exceeds frame capacity")
)

// KindOf returns the frame type encoded in byte 0 of a CAN payload.
func KindOf(data []byte) Kind {
	if len(data) == 0 {
		return KindSingle
	}
	return Kind(data[0] >> 4)
}

// BuildSingleFrame wraps up to 7 payload bytes as a Single Frame,
// padding the unused tail with 0xFF per the CAN wire format.
func BuildSingleFrame(data []byte) ([8]byte, error) {
	if len(data) > 7 {
		return [8]byte{}, ErrPayloadTooLong
	}
	var frame [8]byte
	for i := range frame {
		frame[i] = 0xFF
	}
	frame[0] = byte(KindSingle)<<4 | byte(len(data))
	copy(frame[1:], data)
	return frame, nil
}

// BuildFirstFrame builds a First Frame announcing totalLen (the full
// ISO-TP payload length, <= 4095) and carrying its first up-to-6
// bytes. Fewer than 6 bytes of firstData are allowed when totalLen
// itself is smaller than 6; the remainder is padded with 0xFF.
func BuildFirstFrame(totalLen int, firstData []byte) ([8]byte, error) {
	if totalLen < 0 || totalLen > 0xFFF {
		return [8]byte{}, ErrPayloadTooLong
	}
	if len(firstData) > 6 {
		return [8]byte{}, ErrPayloadTooLong
	}
	var frame [8]byte
	for i := range frame {
		frame[i] = 0xFF
	}
	frame[0] = byte(KindFirst)<<4 | byte((totalLen>>8)&0x0F)
	frame[1] = byte(totalLen & 0xFF)
	copy(frame[2:], firstData)
	return frame, nil
}

// BuildConsecutiveFrame builds a Consecutive Frame with the given
// 4-bit sequence number (0..15) and up to 7 payload bytes, padded with
// 0xFF.
func BuildConsecutiveFrame(sn uint8, data []byte) ([8]byte, error) {
	if len(data) > 7 {
		return [8]byte{}, ErrPayloadTooLong
	}
	var frame [8]byte
	for i := range frame {
		frame[i] = 0xFF
	}
	frame[0] = byte(KindConsecutive)<<4 | (sn & 0x0F)
	copy(frame[1:], data)
	return frame, nil
}

// BuildFlowControl builds a Flow Control frame with the given status,
// block size and raw STmin byte.
func BuildFlowControl(status FCStatus, blockSize uint8, stMinRaw uint8) [8]byte {
	var frame [8]byte
	for i := range frame {
		frame[i] = 0xFF
	}
	frame[0] = byte(KindFlowControl)<<4 | byte(status&0x0F)
	frame[1] = blockSize
	frame[2] = stMinRaw
	return frame
}

// FlowControl is a decoded Flow Control frame.
type FlowControl struct {
	Status    FCStatus
	BlockSize uint8
	STmin     time.Duration
	STminRaw  uint8
}

// ParseFlowControl decodes a Flow Control frame.
func ParseFlowControl(data []byte) (FlowControl, error) {
	if len(data) < 3 {
		return FlowControl{}, ErrFramePadding
	}
	if Kind(data[0]>>4) != KindFlowControl {
		return FlowControl{}, ErrNotFlowControl
	}
	raw := data[2]
	return FlowControl{
		Status:    FCStatus(data[0] & 0x0F),
		BlockSize: data[1],
		STmin:     STmin(raw),
		STminRaw:  raw,
	}, nil
}

// FirstFrameHeader is the decoded PCI of a First Frame.
type FirstFrameHeader struct {
	TotalLen int
	Data     []byte // first up to 6 payload bytes
}

// ParseFirstFrame decodes a First Frame's total length and leading
// payload bytes.
func ParseFirstFrame(data []byte) (FirstFrameHeader, error) {
	if len(data) < 2 {
		return FirstFrameHeader{}, ErrFramePadding
	}
	if Kind(data[0]>>4) != KindFirst {
		return FirstFrameHeader{}, ErrNotFirstFrame
	}
	total := (int(data[0]&0x0F) << 8) | int(data[1])
	return FirstFrameHeader{TotalLen: total, Data: data[2:]}, nil
}

// ConsecutiveFrameHeader is the decoded PCI of a Consecutive Frame.
type ConsecutiveFrameHeader struct {
	SN   uint8
	Data []byte // up to 7 payload bytes
}

// ParseConsecutiveFrame decodes a Consecutive Frame's sequence number
// and payload bytes.
func ParseConsecutiveFrame(data []byte) (ConsecutiveFrameHeader, error) {
	if len(data) < 1 {
		return ConsecutiveFrameHeader{}, ErrFramePadding
	}
	if Kind(data[0]>>4) != KindConsecutive {
		return ConsecutiveFrameHeader{}, ErrNotConsecutive
	}
	return ConsecutiveFrameHeader{SN: data[0] & 0x0F, Data: data[1:]}, nil
}

// STmin converts a raw ISO-TP STmin byte into a wait duration. Values
// 0x00..0x7F are milliseconds, 0xF1..0xF9 are 100..900 microseconds,
// and anything else (reserved) is treated as zero wait.
func STmin(raw byte) time.Duration {
	switch {
	case raw <= 0x7F:
		return time.Duration(raw) * time.Millisecond
	case raw >= 0xF1 && raw <= 0xF9:
		return time.Duration(raw-0xF0) * 100 * time.Microsecond
	default:
		return 0
	}
}

// NextSN advances a 4-bit ISO-TP consecutive-frame sequence counter:
// 1, 2, ..., 15, 0, 1, ...
func NextSN(sn uint8) uint8 {
	if sn == 15 {
		return 0
	}
	return sn + 1
}
