// Package store selects and opens the configured persistence backend.
package store

import (
	"fmt"
	"log/slog"

	"nightdesk/internal/database"
	dbconfig "nightdesk/pkg/database"
	"nightdesk/pkg/interfaces"
)

// Backend names accepted in configuration
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendNone   = "none"
)

// Config selects a backend and carries its settings
type Config struct {
	Backend        string
	SQLite         *dbconfig.Config
	BadgerPath     string
	BadgerInMemory bool
}

// Open returns a ready store for cfg.Backend. The sqlite backend has its
// migrations applied and schema validated before it is returned.
func Open(cfg Config, log *slog.Logger) (interfaces.Store, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		sqlCfg := cfg.SQLite
		if sqlCfg == nil {
			sqlCfg = dbconfig.DefaultConfig()
		}
		manager, err := database.NewManager(sqlCfg, log)
		if err != nil {
			return nil, err
		}
		migrations := dbconfig.NewMigrationManager(manager.GetDB(), dbconfig.MigrationsFS(sqlCfg.MigrationsPath))
		if err := migrations.ApplyMigrations(); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		if err := migrations.ValidateSchema(); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("database schema invalid: %w", err)
		}
		log.Info("sqlite store ready", "path", sqlCfg.DatabasePath)
		return manager, nil

	case BackendBadger:
		b, err := OpenBadger(cfg.BadgerPath, cfg.BadgerInMemory, log)
		if err != nil {
			return nil, err
		}
		log.Info("badger store ready", "path", cfg.BadgerPath, "in_memory", cfg.BadgerInMemory)
		return b, nil

	case BackendNone:
		log.Warn("persistence disabled; history will not survive restarts")
		return Nop{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
