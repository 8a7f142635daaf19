package store

import (
	"context"

	"nightdesk/pkg/interfaces"
)

// Nop discards writes and has no history; it keeps no channel journal, so a
// server running on it starts empty after every restart
type Nop struct{}

func (Nop) Append(context.Context, interfaces.MessageRecord) error { return nil }

func (Nop) FetchHistory(context.Context, string, int) ([]interfaces.MessageRecord, error) {
	return nil, nil
}

func (Nop) HealthCheck(context.Context) error { return nil }

func (Nop) Close() error { return nil }
