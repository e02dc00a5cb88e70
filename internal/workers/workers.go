package workers

import (
	"context"
	"sync"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/engine"
	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
)

type Workers struct {
	workers []Worker
}

// NewWorkers bundles workers so the application can start them all in one call.
func NewWorkers(workers ...Worker) *Workers {
	return &Workers{workers: workers}
}

func (w *Workers) Run() {
	for _, worker := range w.workers {
		worker.Run()
	}
}

// SyncWorker runs sync cycles on a ticker. Stop trips the cycle's interrupt
// token, so a running cycle winds down at its next chunk boundary instead of
// being killed mid-transaction.
type SyncWorker struct {
	syncer   Syncer
	logger   *logger.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	token  *interrupt.Token
	wg     sync.WaitGroup
}

// NewSyncWorker creates a SyncWorker. The worker is idle until Run or Start
// is called. A non-positive interval defaults to 5 minutes.
func NewSyncWorker(syncer Syncer, log *logger.Logger, interval time.Duration) *SyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncWorker{syncer: syncer, logger: log, interval: interval}
}

// Run implements Worker: it starts the periodic job in the background.
func (w *SyncWorker) Run() {
	w.Start(context.Background())
}

// Start stops any previously running job, then launches a goroutine that
// syncs once immediately and again every interval until ctx is cancelled or
// Stop is called.
func (w *SyncWorker) Start(ctx context.Context) {
	w.Stop()

	w.mu.Lock()
	jobCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.token = interrupt.NewToken()
	token := w.token
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()

		w.syncOnce(jobCtx, token)

		t := time.NewTicker(w.interval)
		defer t.Stop()

		for {
			select {
			case <-jobCtx.Done():
				return
			case <-t.C:
				w.syncOnce(jobCtx, token)
			}
		}
	}()
}

// Stop trips the interrupt token, cancels the job and blocks until the
// goroutine has exited. Safe to call when the job is not running.
func (w *SyncWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.token.Interrupt()
	w.token = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *SyncWorker) syncOnce(ctx context.Context, token *interrupt.Token) {
	report, err := w.syncer.Sync(ctx, token)
	if err != nil {
		w.logger.Err(err).
			Str("func", "SyncWorker.syncOnce").
			Str("kind", engine.Classify(err).String()).
			Msg("sync cycle failed")
		return
	}

	w.logger.Debug().
		Str("func", "SyncWorker.syncOnce").
		Int("fetched", report.Fetched).
		Int("staged", report.Staged).
		Int("uploaded", report.Uploaded).
		Msg("sync cycle finished")
}
