package j1939

import "testing"

func TestDecodeDefaultUdsRequest(t *testing.T) {
	id := Decode(0x18DA27F9)
	if id.Priority != 6 {
		t.Errorf("priority = %x, want 6", id.Priority)
	}
	if id.PGN != 0xDA00 {
		t.Errorf("pgn = %x, want DA00", id.PGN)
	}
	if id.Src != 0xF9 {
		t.Errorf("src = %x, want F9", id.Src)
	}
	if id.Dst != 0x27 {
		t.Errorf("dst = %x, want 27", id.Dst)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, raw := range []uint32{
		0x18DA27F9,
		0x18DAF927,
		0x0CF00400,
		0x1CFEF127,
		0x00000000,
		0x1FFFFFFF,
	} {
		id := Decode(raw)
		got := Encode(id.Priority, id.PGN, id.Src, id.Dst)
		if got != raw&0x1FFFFFFF {
			t.Errorf("round trip %08x -> %+v -> %08x", raw, id, got)
		}
	}
}

func TestEncodeDecodeSweep(t *testing.T) {
	// Exhaustive round trip would be 2^29 iterations; sample broadly
	// across priority/PF/PS/SA instead.
	for priority := uint8(0); priority < 8; priority++ {
		for _, pf := range []uint8{0x00, 0x01, 0xDA, 0xEF, 0xF0, 0xFE, 0xFF} {
			for _, ps := range []uint8{0x00, 0x27, 0x7F, 0xF9, 0xFF} {
				for _, sa := range []uint8{0x00, 0x27, 0xF9, 0xFF} {
					raw := Encode(priority, uint32(pf)<<8|pickPgnLow(pf, ps), sa, ps)
					id := Decode(raw)
					again := Encode(id.Priority, id.PGN, id.Src, id.Dst)
					if again != raw {
						t.Fatalf("encode(decode(x)) != x for priority=%x pf=%x ps=%x sa=%x: %08x != %08x",
							priority, pf, ps, sa, again, raw)
					}
				}
			}
		}
	}
}

func pickPgnLow(pf, ps uint8) uint32 {
	if pf >= pf1Broadcast {
		return uint32(ps)
	}
	return 0
}

func TestMatchesIgnoresPriorityAndSource(t *testing.T) {
	id := Encode(6, 0xDA00, 0xF9, 0x27)
	if !Matches(id, 0xDA00) {
		t.Error("expected match on PGN 0xDA00")
	}
	idOtherPriority := Encode(3, 0xDA00, 0x11, 0x27)
	if !Matches(idOtherPriority, 0xDA00) {
		t.Error("priority/source must not affect PGN match")
	}
	if Matches(id, 0xFEF1) {
		t.Error("unexpected match on unrelated PGN")
	}
}

func TestBroadcastPGNHasNoDestination(t *testing.T) {
	id := Decode(Encode(6, 0xFEF1, 0x27, 0xFF))
	if id.Dst != broadcastSA {
		t.Errorf("dst = %x, want broadcast 0xFF", id.Dst)
	}
	if id.PGN != 0xFEF1 {
		t.Errorf("pgn = %x, want FEF1", id.PGN)
	}
}
