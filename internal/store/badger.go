package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"nightdesk/pkg/interfaces"
)

const (
	messagePrefix = "msg:"
	channelPrefix = "chan:"
	sequenceKey   = "seq:msg"
)

// Badger persists messages and channel metadata in an embedded BadgerDB
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) a Badger store at path; inMemory ignores path
func OpenBadger(path string, inMemory bool, log *slog.Logger) (*Badger, error) {
	options := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if inMemory {
		options = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("badger open failed: %w", err)
	}

	// TECHNICAL DISCOVERY: A persistent sequence orders messages that share a
	// nanosecond, so history keeps append order on ties
	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badger sequence failed: %w", err)
	}

	return &Badger{db: db, seq: seq, log: log}, nil
}

// messageKey is "msg:{channel}:{sent_at_padded}:{seq_padded}"; the
// 20-digit padding makes lexicographic order chronological
// TECHNICAL DISCOVERY: Flipping the sign bit maps negative nanos (before 1970)
// below positive ones, so pre-epoch timestamps still sort by time
func messageKey(channelID string, nanos int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%020d", messagePrefix, channelID, sortableNanos(nanos), seq))
}

func sortableNanos(nanos int64) uint64 {
	return uint64(nanos) ^ (1 << 63)
}

func channelKey(id string) []byte {
	return []byte(channelPrefix + id)
}

func (b *Badger) active() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return interfaces.ErrStoreClosed
	}
	return nil
}

// Append stores one message
func (b *Badger) Append(_ context.Context, record interfaces.MessageRecord) error {
	if err := b.active(); err != nil {
		return err
	}

	n, err := b.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(record.ChannelID, record.SentAt.UnixNano(), n), value)
	})
}

// FetchHistory returns the most recent limit messages of a channel in send order
// FUNCTIONAL DISCOVERY: Reverse prefix scan from the newest key collects the
// tail without reading the whole channel
func (b *Badger) FetchHistory(_ context.Context, channelID string, limit int) ([]interfaces.MessageRecord, error) {
	if err := b.active(); err != nil {
		return nil, err
	}

	var records []interfaces.MessageRecord
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix + channelID + ":")
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) == limit {
				break
			}
			var rec interfaces.MessageRecord
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode message %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Reverse(records), nil
}

// SaveChannel upserts channel metadata, keeping the first recorded creation time
func (b *Badger) SaveChannel(_ context.Context, record interfaces.ChannelRecord) error {
	if err := b.active(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := channelKey(record.ID)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing interfaces.ChannelRecord
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &existing) }); err == nil {
				record.CreatedAt = existing.CreatedAt
			}
		case err != badger.ErrKeyNotFound:
			return err
		}

		value, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode channel: %w", err)
		}
		return txn.Set(key, value)
	})
}

// LoadChannels returns every channel not marked deleted, oldest first
func (b *Badger) LoadChannels(_ context.Context) ([]interfaces.ChannelRecord, error) {
	if err := b.active(); err != nil {
		return nil, err
	}

	var records []interfaces.ChannelRecord
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(channelPrefix)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec interfaces.ChannelRecord
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				b.log.Warn("skipping unreadable channel record", "key", string(it.Item().Key()), "error", err)
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records = lo.Filter(records, func(rec interfaces.ChannelRecord, _ int) bool {
		return rec.Status != interfaces.ChannelStatusDeleted
	})
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// HealthCheck reports whether the store can serve reads
func (b *Badger) HealthCheck(_ context.Context) error {
	if err := b.active(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return interfaces.ErrStoreClosed
	}
	return b.db.View(func(*badger.Txn) error { return nil })
}

// Close releases the sequence lease and closes the database
func (b *Badger) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if err := b.seq.Release(); err != nil {
		b.log.Warn("badger sequence release failed", "error", err)
	}
	return b.db.Close()
}
