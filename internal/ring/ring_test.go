package ring

import "testing"

func TestBufferWrite(t *testing.T) {
	buf := New(100)
	n := buf.Write([]byte{1, 2, 3, 4, 5})
	if n != 5 {
		t.Errorf("wrote only %v", n)
	}
	if buf.writePos != 5 {
		t.Errorf("write position is %v", buf.writePos)
	}
	if buf.readPos != 0 {
		t.Error()
	}
	n = buf.Write(make([]byte, 500))
	if n != 94 {
		t.Errorf("wrote %v", n)
	}
	n = buf.Write([]byte{1})
	if n != 0 {
		t.Error()
	}
	// Free up some space by reading then re-writing
	buf.Read(make([]byte, 10))
	n = buf.Write(make([]byte, 10))
	if n != 10 {
		t.Error()
	}
}

func TestBufferRead(t *testing.T) {
	buf := New(100)
	out := make([]byte, 10)
	n := buf.Read(out)
	if n != 0 {
		t.Error()
	}
	n = buf.Write([]byte{1, 2, 3, 4})
	if n != 4 {
		t.Error()
	}
	n = buf.Read(out)
	if n != 4 {
		t.Errorf("res is %v", n)
	}
	if out[0] != 1 || out[3] != 4 {
		t.Errorf("unexpected payload %v", out[:4])
	}
}

func TestBufferBytesRoundTrip(t *testing.T) {
	buf := New(32)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf.Write(payload)
	if buf.Occupied() != len(payload) {
		t.Errorf("occupied = %v, want %v", buf.Occupied(), len(payload))
	}
	out := buf.Bytes()
	if string(out) != string(payload) {
		t.Errorf("got %v, want %v", out, payload)
	}
	if buf.Occupied() != 0 {
		t.Errorf("expected empty buffer after Bytes(), occupied=%v", buf.Occupied())
	}
}
