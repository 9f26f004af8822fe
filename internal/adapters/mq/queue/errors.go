package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrClosed = errors.New("write queue closed")
	ErrFull   = errors.New("write queue full")
)
