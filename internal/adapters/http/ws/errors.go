package ws

import "errors"

// Sentinel kinds for live transport errors.
var (
	ErrNoConnection = errors.New("no live connection for session")
	ErrOrigin       = errors.New("origin not allowed")
)
