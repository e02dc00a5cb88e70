package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/mattn/go-sqlite3"

	"github.com/MKhiriev/go-mark-sync/internal/config"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/utils"
)

// driverName is the sqlite3 driver variant that carries the places scalar
// functions. Registered once at package init.
const driverName = "sqlite3_marksync"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("url_hash", utils.HashURL, true); err != nil {
				return fmt.Errorf("error registering url_hash: %w", err)
			}
			if err := conn.RegisterFunc("reverse_host", utils.ReverseHost, true); err != nil {
				return fmt.Errorf("error registering reverse_host: %w", err)
			}
			if err := conn.RegisterFunc("strip_prefix_and_userinfo", utils.StripPrefixAndUserinfo, true); err != nil {
				return fmt.Errorf("error registering strip_prefix_and_userinfo: %w", err)
			}
			return nil
		},
	})
}

// DB wraps the single writable connection to the places database. All engine
// writes go through it; a concurrent read-only connection owned by the host
// application is never touched by the engine.
type DB struct {
	*sql.DB
	logger *logger.Logger
}

// NewConnectSQLite opens (creating if necessary) the places database at
// cfg.DSN and applies the usual pragmas. The returned DB is limited to one
// open connection so chunked transactions serialise naturally.
func NewConnectSQLite(ctx context.Context, cfg config.DB, log *logger.Logger) (*DB, error) {
	if err := createLocalDBFileIfNotExists(cfg.DSN); err != nil {
		log.Err(err).Str("func", "NewConnectSQLite").Msg("error creating database file")
		return nil, fmt.Errorf("error creating database file")
	}

	conn, err := sql.Open(driverName, cfg.DSN+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		log.Err(err).Str("func", "NewConnectSQLite").Msg("error connecting database")
		return nil, fmt.Errorf("error opening connection to DB")
	}

	conn.SetMaxOpenConns(1)

	if err = conn.PingContext(ctx); err != nil {
		log.Err(err).Str("func", "NewConnectSQLite").Msg("error connecting database (ping)")
		return nil, err
	}
	log.Debug().Str("func", "NewConnectSQLite").Msg("connected to database successfully")

	return &DB{
		DB:     conn,
		logger: log,
	}, nil
}

func createLocalDBFileIfNotExists(dbFile string) error {
	if dbFile == ":memory:" || dbFile == "" {
		return nil
	}

	if _, err := os.Stat(dbFile); os.IsNotExist(err) {
		f, createErr := os.Create(dbFile)
		if createErr != nil {
			return fmt.Errorf("error creating DB file: %w", createErr)
		}
		f.Close()
	}

	return nil
}
