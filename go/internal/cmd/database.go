package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/rubata/go/internal/rubata/config"
	"github.com/mcdev12/rubata/go/internal/rubata/storage"
	"github.com/mcdev12/rubata/go/internal/rubata/storage/memory"
	"github.com/mcdev12/rubata/go/internal/rubata/storage/postgres"
	"github.com/mcdev12/rubata/go/internal/rubata/storage/sqlite"
	"github.com/rs/zerolog/log"
)

// database is the selected store. Pool is set only for the postgres driver.
type database struct {
	Store storage.Store
	Pool  *pgxpool.Pool
	close func()
}

func (d *database) Close() {
	if d.close != nil {
		d.close()
	}
}

func setupDatabase(ctx context.Context, cfg *config.Config) (*database, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.Storage.SQLitePath).Msg("using sqlite storage")
		return &database{
			Store: store,
			close: func() {
				if err := store.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close sqlite store")
				}
			},
		}, nil
	case config.DriverPostgres:
		store, err := postgres.Connect(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return &database{Store: store, Pool: store.Pool(), close: store.Close}, nil
	default:
		log.Warn().Msg("using in-memory storage, sessions are lost on restart")
		return &database{Store: memory.New()}, nil
	}
}
