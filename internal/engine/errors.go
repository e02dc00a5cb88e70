package engine

import (
	"context"
	"errors"

	"github.com/MKhiriev/go-mark-sync/internal/apply"
	"github.com/MKhiriev/go-mark-sync/internal/codec"
	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/transport"
	"github.com/MKhiriev/go-mark-sync/internal/tree"
)

// Kind partitions failures by how the caller should react: retry the cycle,
// skip the record, rebuild the local store, or nothing at all.
type Kind int

const (
	// KindTransient: retry on the next cycle (network, busy database,
	// concurrent local writes).
	KindTransient Kind = iota + 1
	// KindMalformed: an individual record could not be used. Cycles never
	// fail on these; the kind only appears on telemetry breadcrumbs.
	KindMalformed
	// KindCorruption: the local or remote tree is structurally broken beyond
	// what the merge repairs.
	KindCorruption
	// KindCancelled: the caller interrupted the cycle.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindCorruption:
		return "corruption"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by the engine onto its Kind. Unrecognised
// errors classify as transient so callers retry rather than destroy state.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, interrupt.ErrInterrupted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, tree.ErrCorrupt),
		errors.Is(err, tree.ErrMissingRoot),
		errors.Is(err, tree.ErrCycle):
		return KindCorruption
	case errors.Is(err, codec.ErrMalformedRecord):
		return KindMalformed
	case errors.Is(err, transport.ErrTransient),
		errors.Is(err, apply.ErrConcurrentWrite):
		return KindTransient
	default:
		return KindTransient
	}
}
