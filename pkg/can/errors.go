package can

import "errors"

var (
	ErrNotConnected = errors.New("can: transport is not connected")
	ErrDLC          = errors.New("can: dlc must be in 0..8")
)
