package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for production deployment without hardcoded values
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	BusyTimeout     time.Duration `json:"busy_timeout"`
	WriteRetryDelay time.Duration `json:"write_retry_delay"` // pause before the single retry of a failed write; 0 disables the retry
	MigrationsPath  string        `json:"migrations_path"`   // empty uses the embedded migrations
}

// DefaultConfig returns production-ready database configuration
// FUNCTIONAL DISCOVERY: SQLite performs well with a small pool; writes are
// funneled through one goroutine anyway
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/nightdesk.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		BusyTimeout:     5 * time.Second,
		WriteRetryDelay: 5 * time.Second,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.BusyTimeout < 0 {
		return errors.New("busy timeout cannot be negative")
	}
	if c.WriteRetryDelay < 0 {
		return errors.New("write retry delay cannot be negative")
	}
	return nil
}

// DSN returns the go-sqlite3 connection string for the configured file
func (c *Config) DSN() string {
	return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		c.DatabasePath, c.BusyTimeout.Milliseconds())
}

// SQLite optimization pragmas
// ARCHITECTURAL DISCOVERY: WAL mode enables concurrent history reads while the
// single writer goroutine appends messages
var sqliteOptimizations = []string{
	"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrency
	"PRAGMA synchronous = NORMAL", // Balance safety and performance
	"PRAGMA cache_size = -16000",  // 16MB cache (negative = KB)
	"PRAGMA temp_store = MEMORY",  // Use memory for temporary tables
	"PRAGMA foreign_keys = ON",
}

// ApplySQLiteOptimizations applies performance pragmas to the database handle
func ApplySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range sqliteOptimizations {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
