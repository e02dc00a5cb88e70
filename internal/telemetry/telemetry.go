// Package telemetry defines the event sink the engine reports sync health
// through: fetch statistics, per-record validation problems, merge timing,
// post-apply orphan counts and opaque error breadcrumbs.
//
// The engine never fails because telemetry failed; sinks must not return
// errors and must be cheap enough to call from hot loops.
package telemetry

import (
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/google/uuid"
)

// Event is a discrete telemetry datum. Implementations are plain structs so
// sinks can type-switch without reflection.
type Event interface {
	eventName() string
}

// FetchStats summarises one incoming batch.
type FetchStats struct {
	Incoming   int
	Applied    int
	Failed     int
	Tombstones int
}

func (FetchStats) eventName() string { return "fetch_stats" }

// ValidationProblem records a single malformed or repaired incoming record.
// Malformed records are skipped, counted here, and never abort the cycle.
type ValidationProblem struct {
	Guid   string
	Reason string
}

func (ValidationProblem) eventName() string { return "validation_problem" }

// MergeDuration reports how long the in-memory merge took.
type MergeDuration struct {
	Duration   time.Duration
	LocalSize  int
	RemoteSize int
}

func (MergeDuration) eventName() string { return "merge_duration" }

// OrphansFound reports the post-apply orphan scan result. Non-zero counts
// are corruption signals but do not abort the cycle.
type OrphansFound struct {
	Count int
}

func (OrphansFound) eventName() string { return "orphans_found" }

// Breadcrumb is an opaque error trail entry.
type Breadcrumb struct {
	Message string
}

func (Breadcrumb) eventName() string { return "breadcrumb" }

// Sink accepts telemetry events. Implementations must be safe for use from a
// single sync worker and must never panic.
type Sink interface {
	Record(event Event)
}

// logSink writes telemetry events to the structured log, tagging every event
// of one engine lifetime with a correlation id.
type logSink struct {
	log     *logger.Logger
	traceID string
}

// NewLogSink returns a Sink that emits events through the given logger.
func NewLogSink(log *logger.Logger) Sink {
	return &logSink{log: log, traceID: uuid.NewString()}
}

func (s *logSink) Record(event Event) {
	entry := s.log.Info().
		Str("trace_id", s.traceID).
		Str("event", event.eventName())

	switch e := event.(type) {
	case FetchStats:
		entry = entry.
			Int("incoming", e.Incoming).
			Int("applied", e.Applied).
			Int("failed", e.Failed).
			Int("tombstones", e.Tombstones)
	case ValidationProblem:
		entry = entry.Str("guid", e.Guid).Str("reason", e.Reason)
	case MergeDuration:
		entry = entry.
			Dur("duration", e.Duration).
			Int("local_size", e.LocalSize).
			Int("remote_size", e.RemoteSize)
	case OrphansFound:
		entry = entry.Int("count", e.Count)
	case Breadcrumb:
		entry = entry.Str("message", e.Message)
	}

	entry.Msg("telemetry event")
}

// Nop returns a Sink that drops everything. Intended for tests.
func Nop() Sink {
	return nopSink{}
}

type nopSink struct{}

func (nopSink) Record(Event) {}
