// Package j1939 packs and unpacks the 29-bit SAE J1939 CAN identifier
// used to carry UDS-over-ISO-TP diagnostic traffic.
package j1939

// Identifier is the decoded form of a 29-bit J1939 CAN identifier:
//
//	priority(3) | reserved(1)=0 | data-page(1) | PDU-format(8) | PDU-specific(8) | source(8)
//
// When PF >= 240 the message is PDU2 (broadcast): the PGN absorbs the
// PDU-specific byte as its low byte and there is no destination
// address (Dst reads as 0xFF). When PF < 240 the message is PDU1
// (peer-to-peer): PS is the destination address and the PGN's low
// byte is always 0. The reserved and data-page bits are carried in
// the PGN as its bits 17 and 16, so they survive a Decode/Encode
// round trip.
type Identifier struct {
	Priority uint8
	PGN      uint32
	Src      uint8
	Dst      uint8
}

const (
	pf1Broadcast = 240 // PF values >= this are PDU2 (broadcast)
	broadcastSA  = 0xFF
)

// Decode splits a 29-bit CAN identifier into its J1939 fields. Bits
// above bit 28 are ignored, so any raw 29-bit (or wider, with the
// extended-frame flag already masked off by the caller) value decodes
// without error.
func Decode(id uint32) Identifier {
	priority := uint8((id >> 26) & 0x7)
	page := (id >> 24) & 0x3 // reserved + data-page bits
	pf := uint8((id >> 16) & 0xFF)
	ps := uint8((id >> 8) & 0xFF)
	src := uint8(id & 0xFF)

	var pgn uint32
	var dst uint8
	if pf >= pf1Broadcast {
		pgn = (uint32(pf) << 8) | uint32(ps)
		dst = broadcastSA
	} else {
		pgn = uint32(pf) << 8
		dst = ps
	}
	pgn |= page << 16
	return Identifier{Priority: priority, PGN: pgn, Src: src, Dst: dst}
}

// Encode packs priority, PGN, source and destination addresses back
// into a 29-bit CAN identifier. Priority saturates to 3 bits. If the
// PGN is already a PDU2 (broadcast) PGN — i.e. its PF byte (bits 8-15)
// is >= 240 — dst is ignored and the PGN's own low byte is used as PS,
// matching how a real ECU can never address PDU2 traffic point to
// point.
func Encode(priority uint8, pgn uint32, src uint8, dst uint8) uint32 {
	priority &= 0x7
	pf := uint8((pgn >> 8) & 0xFF)

	var ps uint8
	if pf >= pf1Broadcast {
		ps = uint8(pgn & 0xFF)
	} else {
		ps = dst
	}

	id := uint32(priority) << 26
	id |= ((pgn >> 16) & 0x3) << 24
	id |= uint32(pf) << 16
	id |= uint32(ps) << 8
	id |= uint32(src)
	return id
}

// Matches reports whether id's PGN equals pgn, ignoring priority and
// source address. A PDU1 pgn (PF < 240) matches any destination,
// including the broadcast address, since Decode always folds PDU1's
// PS into Dst rather than the PGN.
func Matches(id uint32, pgn uint32) bool {
	return Decode(id).PGN == pgn
}
