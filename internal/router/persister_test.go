package router

import (
	"context"
	"testing"
	"time"

	"nightdesk/pkg/interfaces"
)

// messageOnlyStore hides the journal side of fakeStore
type messageOnlyStore struct {
	inner *fakeStore
}

func (s messageOnlyStore) Append(ctx context.Context, rec interfaces.MessageRecord) error {
	return s.inner.Append(ctx, rec)
}

func (s messageOnlyStore) FetchHistory(ctx context.Context, channelID string, limit int) ([]interfaces.MessageRecord, error) {
	return s.inner.FetchHistory(ctx, channelID, limit)
}

func (s messageOnlyStore) HealthCheck(ctx context.Context) error { return nil }
func (s messageOnlyStore) Close() error                          { return nil }

func TestPersister_WritesInOrder(t *testing.T) {
	store := newFakeStore()
	p := NewPersister(store, 100, time.Second, testLogger())
	p.Start()

	for i := 0; i < 50; i++ {
		rec := interfaces.MessageRecord{ID: string(rune('a' + i%26)), ChannelID: "c", SentAt: time.Unix(int64(i), 0)}
		if err := p.EnqueueMessage(rec); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	p.Stop()

	history, _ := store.FetchHistory(context.Background(), "c", 0)
	if len(history) != 50 {
		t.Fatalf("Expected 50 writes, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].SentAt.Before(history[i-1].SentAt) {
			t.Errorf("Write order broken at %d", i)
		}
	}
}

func TestPersister_QueueFull(t *testing.T) {
	p := NewPersister(newFakeStore(), 1, time.Second, testLogger())

	if err := p.EnqueueMessage(interfaces.MessageRecord{ID: "1"}); err != nil {
		t.Fatalf("First enqueue failed: %v", err)
	}
	if err := p.EnqueueMessage(interfaces.MessageRecord{ID: "2"}); err != ErrPersistQueueFull {
		t.Errorf("Expected ErrPersistQueueFull, got %v", err)
	}
	p.Stop()
}

func TestPersister_Stopped(t *testing.T) {
	p := NewPersister(newFakeStore(), 4, time.Second, testLogger())
	p.Start()
	p.Stop()
	p.Stop() // idempotent

	if err := p.EnqueueMessage(interfaces.MessageRecord{ID: "late"}); err != ErrPersisterStopped {
		t.Errorf("Expected ErrPersisterStopped, got %v", err)
	}
}

func TestPersister_JournalDetection(t *testing.T) {
	full := NewPersister(newFakeStore(), 4, time.Second, testLogger())
	if !full.Journaling() {
		t.Error("Store with channel journal should enable journaling")
	}
	full.Stop()

	inner := newFakeStore()
	plain := NewPersister(messageOnlyStore{inner: inner}, 4, time.Second, testLogger())
	if plain.Journaling() {
		t.Error("Message-only store should not journal")
	}
	if err := plain.EnqueueChannel(interfaces.ChannelRecord{ID: "c"}); err != nil {
		t.Errorf("EnqueueChannel without journal should be a no-op, got %v", err)
	}
	plain.Stop()
	if len(inner.channels) != 0 {
		t.Error("No channel records should reach a message-only store")
	}
}
