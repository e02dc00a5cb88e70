package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/MKhiriev/go-mark-sync/internal/config"
	"github.com/MKhiriev/go-mark-sync/internal/engine"
	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/store"
	"github.com/MKhiriev/go-mark-sync/internal/telemetry"
	"github.com/MKhiriev/go-mark-sync/internal/transport"
	"github.com/MKhiriev/go-mark-sync/internal/workers"
	"github.com/MKhiriev/go-mark-sync/migrations"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewLogger("mark-sync")
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	log.Debug().Any("config", cfg).Msg("received configs")

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGQUIT,
	)
	defer stop()

	db, err := store.NewConnectSQLite(ctx, cfg.Storage.DB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error connecting to places database")
	}
	defer db.Close()

	if err = migrations.Migrate(db.DB); err != nil {
		log.Fatal().Err(err).Msg("error migrating places database")
	}

	storages := store.NewStorages(db, log)
	client := transport.NewHTTPClient(transport.Config{
		BaseURL:  cfg.Server.BaseURL,
		DeviceID: cfg.Server.DeviceID,
		Timeout:  cfg.Server.RequestTimeout,
	})

	eng := engine.New(db, storages, client, telemetry.NewLogSink(log), log, cfg.Engine.ChunkTarget)

	if cfg.Workers.Daemon {
		runDaemon(ctx, eng, cfg, log)
		return
	}

	runOnce(ctx, eng, log)
}

// runOnce performs a single sync cycle, winding down at the next chunk
// boundary if a stop signal arrives mid-cycle.
func runOnce(ctx context.Context, eng *engine.Engine, log *logger.Logger) {
	token := interrupt.NewToken()
	go func() {
		<-ctx.Done()
		token.Interrupt()
	}()

	report, err := eng.Sync(ctx, token)
	if err != nil {
		log.Fatal().Err(err).
			Str("kind", engine.Classify(err).String()).
			Msg("sync failed")
	}

	log.Info().
		Int("fetched", report.Fetched).
		Int("applied", report.Applied).
		Int("failed", report.Failed).
		Int("staged", report.Staged).
		Int("uploaded", report.Uploaded).
		Msg("sync finished")
}

// runDaemon syncs on the configured interval until a stop signal arrives.
func runDaemon(ctx context.Context, eng *engine.Engine, cfg *config.Config, log *logger.Logger) {
	syncWorker := workers.NewSyncWorker(eng, log, cfg.Workers.SyncInterval)
	syncWorker.Start(ctx)

	log.Info().Dur("interval", cfg.Workers.SyncInterval).Msg("daemon mode: periodic sync started")

	<-ctx.Done()
	syncWorker.Stop()
	log.Info().Msg("daemon stopped gracefully")
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}
	if buildDate == "" {
		buildDate = "N/A"
	}
	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
