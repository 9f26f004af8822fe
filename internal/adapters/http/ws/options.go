package ws

import (
	"time"

	"github.com/okian/bluffmeter/pkg/logger"
)

// Option applies a configuration option to the Handler.
type Option func(*Handler)

// WithAllowedOrigin restricts which browser origins may open a socket.
// "*" or an empty value allows any origin.
func WithAllowedOrigin(origin string) Option {
	return func(h *Handler) {
		h.allowedOrigin = origin
	}
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the handler.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}
