package engine

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultProcessDuration = 10 * time.Second
	DefaultSettleTimeout   = 60 * time.Second
)

// Option configures an Engine.
type Option func(*Engine)

// WithProcessDuration sets the fixed time every job spends in PROCESSING.
// Non-positive values keep the default.
func WithProcessDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.duration = d
		}
	}
}

// WithLogger sets the logger. The engine adds component=engine to it.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}
