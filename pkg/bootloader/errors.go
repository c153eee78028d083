package bootloader

import "errors"

// Error taxonomy, modeled on gocanopen's errors.go sentinel-error
// table: a small var block of distinct causes so callers (and the
// engine's own severity mapping) can use errors.Is.
var (
	// ErrPrecondition: command issued in the wrong state, or without
	// firmware loaded. Recovered locally; never changes engine state.
	ErrPrecondition = errors.New("bootloader: precondition not met")
	// ErrEncoding: a request could not be built (e.g. a DID write
	// whose variable size is outside 1..4 bytes). The request is
	// never sent.
	ErrEncoding = errors.New("bootloader: request could not be encoded")
	// ErrProtocol: wrong SID/DID/sub-function, or a bad ISO-TP
	// sequence. Fatal to the current flash.
	ErrProtocol = errors.New("bootloader: protocol violation")
	// ErrNegativeResponse: the ECU returned 0x7F with an NRC other than
	// 0x78 (which is handled as a non-fatal wait, not an error). Fatal.
	ErrNegativeResponse = errors.New("bootloader: ecu returned a negative response")
	// ErrTimeout: an N_xx timer expired. Fatal.
	ErrTimeout = errors.New("bootloader: timeout waiting for ecu response")
	// ErrTransport: CanPort.Send was rejected. Fatal.
	ErrTransport = errors.New("bootloader: transport rejected frame")
)
