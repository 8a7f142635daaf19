package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	dbconfig "nightdesk/pkg/database"
	"nightdesk/pkg/interfaces"
	"nightdesk/pkg/types"
)

// Manager is the SQLite implementation of interfaces.Store and
// interfaces.ChannelJournal
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database file and starts the writer goroutine.
// Migrations are applied separately, see pkg/database.MigrationManager.
func NewManager(config *dbconfig.Config, log *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if dir := filepath.Dir(config.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          log,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried at most once, and
			// only when a retry delay is configured
			err := op.operation(op.ctx, m.db)
			if err != nil && m.config.WriteRetryDelay > 0 && op.ctx.Err() == nil {
				m.log.Warn("database write failed, retrying", "delay", m.config.WriteRetryDelay, "error", err)
				select {
				case <-time.After(m.config.WriteRetryDelay):
					err = op.operation(op.ctx, m.db)
				case <-op.ctx.Done():
					err = op.ctx.Err()
				case <-m.shutdown:
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// Append stores one message
func (m *Manager) Append(ctx context.Context, record interfaces.MessageRecord) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, channel_id, sender, sender_name, branch, text, sent_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			record.ID,
			record.ChannelID,
			string(record.Sender),
			record.SenderName,
			record.Branch,
			record.Text,
			record.SentAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// FetchHistory returns the most recent limit messages of a channel in send order
// FUNCTIONAL DISCOVERY: rowid breaks sent_at ties so equal timestamps keep
// their insertion order
func (m *Manager) FetchHistory(ctx context.Context, channelID string, limit int) ([]interfaces.MessageRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, channel_id, sender, sender_name, branch, text, sent_at
		FROM (
			SELECT rowid AS seq, id, channel_id, sender, sender_name, branch, text, sent_at
			FROM messages
			WHERE channel_id = ?
			ORDER BY sent_at DESC, seq DESC
			LIMIT ?
		)
		ORDER BY sent_at ASC, seq ASC
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []interfaces.MessageRecord
	for rows.Next() {
		var rec interfaces.MessageRecord
		var sender string
		if err := rows.Scan(&rec.ID, &rec.ChannelID, &sender, &rec.SenderName, &rec.Branch, &rec.Text, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		rec.Sender = types.Role(sender)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return records, nil
}

// SaveChannel upserts channel metadata
func (m *Manager) SaveChannel(ctx context.Context, record interfaces.ChannelRecord) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO channels (id, branch, guest_name, created_at, last_active_at, status)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				branch = excluded.branch,
				guest_name = excluded.guest_name,
				last_active_at = excluded.last_active_at,
				status = excluded.status
		`,
			record.ID,
			record.Branch,
			record.GuestName,
			record.CreatedAt.UTC(),
			record.LastActiveAt.UTC(),
			record.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to save channel: %w", err)
		}
		return nil
	})
}

// LoadChannels returns every channel not marked deleted, oldest first
func (m *Manager) LoadChannels(ctx context.Context) ([]interfaces.ChannelRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, branch, guest_name, created_at, last_active_at, status
		FROM channels
		WHERE status != ?
		ORDER BY created_at ASC
	`, interfaces.ChannelStatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []interfaces.ChannelRecord
	for rows.Next() {
		var rec interfaces.ChannelRecord
		if err := rows.Scan(&rec.ID, &rec.Branch, &rec.GuestName, &rec.CreatedAt, &rec.LastActiveAt, &rec.Status); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channel rows: %w", err)
	}
	return records, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return interfaces.ErrStoreClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM channels").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
