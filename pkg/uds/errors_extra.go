package uds

import "errors"

// ErrUnexpectedSeq classifies a TransferData response whose sequence
// id does not match the block just sent.
var ErrUnexpectedSeq = errors.New("uds: unexpected sequence id in response")
