package uds

// pad builds an 8-byte CAN payload out of the given single-frame
// bytes, filling the remainder with the ISO-TP SF padding byte 0xFF.
// It panics if more than 8 bytes are supplied, which would indicate a
// bug in a caller, not a runtime condition.
func pad(data ...byte) [8]byte {
	if len(data) > 8 {
		panic("uds: single frame payload longer than 8 bytes")
	}
	var frame [8]byte
	for i := range frame {
		frame[i] = 0xFF
	}
	copy(frame[:], data)
	return frame
}
