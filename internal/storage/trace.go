package storage

import (
	"github.com/rs/zerolog"
)

// ───────────────────────────────────────────────────────────────────────────
// Tracing
// ───────────────────────────────────────────────────────────────────────────
//
// Components emit one human-readable line per structural event (buffer
// hit/miss/evict/flush, B+Tree descent and splits). The default tracer
// discards everything; cmd wiring installs a zerolog-backed one.

// Tracer receives one formatted line per structural event.
type Tracer interface {
	Tracef(format string, args ...any)
}

// NopTracer discards all trace events.
func NopTracer() Tracer { return nopTracer{} }

type nopTracer struct{}

func (nopTracer) Tracef(string, ...any) {}

// ZerologTracer adapts a zerolog.Logger into a Tracer. Events are emitted
// at debug level so a production logger filters them out by default.
func ZerologTracer(l zerolog.Logger) Tracer { return zlTracer{l: l} }

type zlTracer struct {
	l zerolog.Logger
}

func (t zlTracer) Tracef(format string, args ...any) {
	t.l.Debug().Msgf(format, args...)
}
