package service

import "errors"

// Sentinel kinds for session engine errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrSessionUnknown = errors.New("session not found")
	ErrTerminal       = errors.New("session already ended")
	ErrNotActive      = errors.New("session not active")
	ErrInvalidRole    = errors.New("invalid role")
	ErrEmptyText      = errors.New("empty message text")
	ErrInvalidRequest = errors.New("invalid request")
)
