// Package telemetry provides structured, per-component JSON logging built on
// zerolog. Every component obtains a child logger via For(component) that
// always carries the service field; handlers bind correlation_id and
// business_event per call via With().
package telemetry

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the field names used throughout this
// pipeline's log records.
type Logger struct {
	zerolog.Logger
}

var (
	mu      sync.Mutex
	writers []io.Writer = []io.Writer{os.Stdout}
	level               = zerolog.InfoLevel
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// SetOutputs replaces the set of writers every component logger writes to.
// Call once at startup after the log directory has been resolved; component
// loggers created afterward pick up the new set; loggers obtained from For
// earlier keep the writers they were built with.
func SetOutputs(w ...io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if len(w) == 0 {
		w = []io.Writer{os.Stdout}
	}
	writers = w
}

// SetLevel sets the minimum level emitted by component loggers created after
// this call.
func SetLevel(l zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// For returns a logger scoped to the named component (e.g. "radar",
// "consolidator", "api"). The service field is always present.
func For(component string) Logger {
	mu.Lock()
	w := io.MultiWriter(writers...)
	lvl := level
	mu.Unlock()

	l := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", component).Logger()
	return Logger{l}
}

// WithEvent returns a child logger annotating business_event, for a single
// log call describing a domain-significant occurrence (detection recorded,
// alert raised, persistence flush, ...).
func (l Logger) WithEvent(event string) Logger {
	return Logger{l.Logger.With().Str("business_event", event).Logger()}
}

// WithCorrelation returns a child logger annotating correlation_id so every
// line about one detection/consolidation can be grepped together.
func (l Logger) WithCorrelation(id string) Logger {
	return Logger{l.Logger.With().Str("correlation_id", id).Logger()}
}
