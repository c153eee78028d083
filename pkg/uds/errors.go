package uds

import "errors"

// Sentinel errors returned by the service encoders. They classify
// failures the way gocanopen's errors.go classifies CANopen failures:
// a small var block of distinct causes instead of bare strings, so
// callers can use errors.Is.
var (
	ErrEncoding       = errors.New("uds: request cannot be encoded")
	ErrStructural     = errors.New("uds: response is structurally invalid")
	ErrNegativeResp   = errors.New("uds: ecu returned a negative response")
	ErrResponsePend   = errors.New("uds: ecu requested more time (0x78)")
	ErrUnexpectedSID  = errors.New("uds: unexpected service id in response")
	ErrUnexpectedSub  = errors.New("uds: unexpected sub-function in response")
	ErrUnexpectedDID  = errors.New("uds: unexpected data identifier in response")
	ErrVariableTooBig = errors.New("uds: variable size exceeds 4 bytes")
)

// NRC is a UDS negative response code, the second data byte of a 0x7F
// response.
type NRC uint8

const (
	NRCRequestCorrectlyReceivedResponsePending NRC = 0x78
)

// NegativeResponse carries the service id that was rejected and the
// NRC the ECU returned.
type NegativeResponse struct {
	SID uint8
	NRC NRC
}

func (e *NegativeResponse) Error() string {
	return "uds: negative response"
}

func (e *NegativeResponse) Unwrap() error { return ErrNegativeResp }

// ParseNegativeResponse returns the decoded negative response iff
// data is a well-formed 0x7F frame (PCI=03, SID=0x7F).
func ParseNegativeResponse(data []byte) (*NegativeResponse, bool) {
	if len(data) < 4 {
		return nil, false
	}
	if data[0] != 0x03 || data[1] != 0x7F {
		return nil, false
	}
	return &NegativeResponse{SID: data[2], NRC: NRC(data[3])}, true
}
