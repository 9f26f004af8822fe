package repository

import (
	"errors"

	"github.com/okian/bluffmeter/internal/domain/topics"
)

// Sentinel kinds for repository errors.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInviteNotFound    = errors.New("invite not found")
	ErrCandidateNotFound = errors.New("candidate not ranked")
	ErrTopicNotFound     = topics.ErrNotFound
	ErrDuplicateID       = errors.New("duplicate id")
	ErrInvalidLimit      = errors.New("invalid limit")
	ErrInvalidScore      = errors.New("score out of range")
	ErrInvalidSession    = errors.New("invalid session")
	ErrClosed            = errors.New("store closed")
)
