package mediarx

import "errors"

var (
	ErrReceiverClosed   = errors.New("receiver is closed")
	ErrReceiverStarted  = errors.New("receiver already started")
	ErrStreamOutOfRange = errors.New("stream index out of range")
	ErrInvalidParameter = errors.New("invalid parameter")
)
