// Package report carries worker outcomes that an operator may need to see:
// command results and telemetry failures.
package report

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what produced an Event.
type Kind string

const (
	KindSetPowerMode   Kind = "set_power_mode"
	KindKillProcess    Kind = "kill_process"
	KindTelemetryInit  Kind = "telemetry_init"
	KindTelemetryQuery Kind = "telemetry_query"
	KindTelemetryClose Kind = "telemetry_close"
)

// Event is a single reported outcome.
type Event struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Kind      Kind   `json:"kind"`
	Target    string `json:"target"` // mode token or pid, empty for telemetry events
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// IsCommand reports whether the event came from a user command.
func (e Event) IsCommand() bool {
	return e.Kind == KindSetPowerMode || e.Kind == KindKillProcess
}

// New builds an Event stamped with a fresh id and the given time.
func New(now time.Time, kind Kind, target string, err error) Event {
	e := Event{
		ID:        uuid.NewString(),
		Timestamp: now.Unix(),
		Kind:      kind,
		Target:    target,
		OK:        err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink receives events. Implementations must not block for long; they are
// called from the polling goroutine.
type Sink interface {
	Report(Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Report(Event) {}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Report(e Event) {
	for _, s := range m {
		s.Report(e)
	}
}

// Logger writes events to a slog.Logger. Failed commands log at Warn,
// telemetry failures at Debug since they repeat every tick.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Report(e Event) {
	attrs := []any{"kind", e.Kind, "id", e.ID}
	if e.Target != "" {
		attrs = append(attrs, "target", e.Target)
	}
	switch {
	case e.OK:
		l.Log.Info("applied", attrs...)
	case e.IsCommand():
		l.Log.Warn("failed", append(attrs, "err", e.Error)...)
	default:
		l.Log.Debug("failed", append(attrs, "err", e.Error)...)
	}
}
