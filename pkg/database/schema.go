package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"channels":          "Channel metadata",
		"messages":          "Message log",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	channelColumns := map[string]string{
		"id":             "TEXT",
		"branch":         "TEXT",
		"guest_name":     "TEXT",
		"created_at":     "DATETIME",
		"last_active_at": "DATETIME",
		"status":         "TEXT",
	}
	if err := v.validateColumns("channels", channelColumns); err != nil {
		return fmt.Errorf("channels table structure invalid: %w", err)
	}

	messageColumns := map[string]string{
		"id":          "TEXT",
		"channel_id":  "TEXT",
		"sender":      "TEXT",
		"sender_name": "TEXT",
		"branch":      "TEXT",
		"text":        "TEXT",
		"sent_at":     "DATETIME",
	}
	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_messages_channel_time": "Message history retrieval",
		"idx_channels_status":       "Restore of live channels",
		"idx_channels_last_active":  "Recency ordering",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies that check constraints reject bad rows
// ARCHITECTURAL DISCOVERY: Constraint validation ensures data integrity rules
// are enforced at the database level
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO messages (id, channel_id, sender, text, sent_at)
		VALUES ('constraint-probe', 'c', 'stranger', 'x', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM messages WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: messages.sender")
	}

	_, err = v.db.Exec(`
		INSERT INTO channels (id, guest_name, created_at, last_active_at, status)
		VALUES ('constraint-probe', 'x', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 'archived')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM channels WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: channels.status")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
