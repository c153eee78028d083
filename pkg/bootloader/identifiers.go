package bootloader

import "github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/j1939"

// Identifiers is the J1939 addressing configuration for UDS traffic:
// a shared priority and PGN, plus the tester (this host) and device
// (target ECU) source addresses.
type Identifiers struct {
	Priority uint8
	PGN      uint32
	TesterSA uint8
	DeviceSA uint8
}

// DefaultIdentifiers matches spec.md's §6 defaults: priority 6, the
// UDS request diagnostic PGN 0xDA00, tester source address 0xF9. The
// device source address has no sane default and must be configured.
func DefaultIdentifiers() Identifiers {
	return Identifiers{Priority: 6, PGN: 0xDA00, TesterSA: 0xF9}
}

// TxID returns the 29-bit identifier this host transmits UDS requests
// on: src=tester, dst=device.
func (c Identifiers) TxID() uint32 {
	return j1939.Encode(c.Priority, c.PGN, c.TesterSA, c.DeviceSA)
}

// RxID returns the 29-bit identifier UDS responses are expected on:
// src=device, dst=tester.
func (c Identifiers) RxID() uint32 {
	return j1939.Encode(c.Priority, c.PGN, c.DeviceSA, c.TesterSA)
}
