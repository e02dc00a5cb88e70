// Package workers provides abstractions for managing and running
// background workers in the application.
// It defines the Worker interface, a Workers aggregate that runs multiple
// workers in a unified way, and the periodic SyncWorker that drives sync
// cycles on a fixed interval.
package workers

import (
	"context"

	"github.com/MKhiriev/go-mark-sync/internal/engine"
	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
)

// Worker is the interface that must be implemented by any background worker.
// It defines a single Run method that starts the worker's execution.
//
// Implementations are expected to block for the duration of their work
// or spawn goroutines internally.
type Worker interface {
	Run()
}

// Syncer runs one full sync cycle. Satisfied by *engine.Engine.
type Syncer interface {
	Sync(ctx context.Context, token *interrupt.Token) (*engine.Report, error)
}
