package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"nightdesk/pkg/interfaces"
	"nightdesk/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestBadger(t *testing.T) *Badger {
	t.Helper()
	b, err := OpenBadger(t.TempDir(), false, testLogger())
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func message(channelID string, n int, at time.Time) interfaces.MessageRecord {
	return interfaces.MessageRecord{
		ID:         fmt.Sprintf("m-%d", n),
		ChannelID:  channelID,
		Sender:     types.RoleGuest,
		SenderName: "Kim",
		Branch:     "Seoul",
		Text:       fmt.Sprintf("message %d", n),
		SentAt:     at,
	}
}

func TestBadger_AppendAndFetchHistory(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := b.Append(ctx, message("c1", i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	if err := b.Append(ctx, message("c2", 99, base)); err != nil {
		t.Fatalf("Append to other channel failed: %v", err)
	}

	all, err := b.FetchHistory(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(all))
	}
	for i, rec := range all {
		if rec.ID != fmt.Sprintf("m-%d", i) {
			t.Errorf("Position %d: expected m-%d, got %s", i, i, rec.ID)
		}
	}

	tail, err := b.FetchHistory(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("FetchHistory with limit failed: %v", err)
	}
	if len(tail) != 2 || tail[0].ID != "m-3" || tail[1].ID != "m-4" {
		t.Errorf("Expected last two messages in order, got %+v", tail)
	}
	if tail[1].Sender != types.RoleGuest || tail[1].Branch != "Seoul" {
		t.Errorf("Fields not round-tripped: %+v", tail[1])
	}
}

func TestBadger_EqualTimestampsKeepAppendOrder(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for _, n := range []int{9, 1, 5} {
		if err := b.Append(ctx, message("c1", n, at)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := b.FetchHistory(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	want := []string{"m-9", "m-1", "m-5"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestBadger_PreEpochTimestampsKeepTimeOrder(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()
	base := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := b.Append(ctx, message("c1", i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	if err := b.Append(ctx, message("c1", 3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, err := b.FetchHistory(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(history))
	}
	for i, rec := range history {
		if want := fmt.Sprintf("m-%d", i); rec.ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, rec.ID)
		}
	}
}

func TestSortableNanos(t *testing.T) {
	values := []int64{math.MinInt64, -2, -1, 0, 1, math.MaxInt64}
	for i := 1; i < len(values); i++ {
		prev := fmt.Sprintf("%020d", sortableNanos(values[i-1]))
		next := fmt.Sprintf("%020d", sortableNanos(values[i]))
		if prev >= next {
			t.Errorf("%d should sort before %d: %s >= %s", values[i-1], values[i], prev, next)
		}
	}
}

func TestBadger_UnknownChannelIsEmpty(t *testing.T) {
	b := openTestBadger(t)
	got, err := b.FetchHistory(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no messages, got %d", len(got))
	}
}

func TestBadger_ChannelJournal(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	records := []interfaces.ChannelRecord{
		{ID: "b", Branch: "Busan", GuestName: "Lee", CreatedAt: base.Add(time.Minute), LastActiveAt: base.Add(time.Minute), Status: interfaces.ChannelStatusOpen},
		{ID: "a", Branch: "Seoul", GuestName: "Kim", CreatedAt: base, LastActiveAt: base, Status: interfaces.ChannelStatusOpen},
		{ID: "gone", Branch: "Jeju", GuestName: "Park", CreatedAt: base, LastActiveAt: base, Status: interfaces.ChannelStatusDeleted},
	}
	for _, rec := range records {
		if err := b.SaveChannel(ctx, rec); err != nil {
			t.Fatalf("SaveChannel %s failed: %v", rec.ID, err)
		}
	}

	// Upsert keeps the original creation time
	update := records[1]
	update.CreatedAt = base.Add(time.Hour)
	update.LastActiveAt = base.Add(2 * time.Hour)
	update.Status = interfaces.ChannelStatusClosed
	if err := b.SaveChannel(ctx, update); err != nil {
		t.Fatalf("SaveChannel update failed: %v", err)
	}

	loaded, err := b.LoadChannels(ctx)
	if err != nil {
		t.Fatalf("LoadChannels failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 channels, got %d", len(loaded))
	}
	if loaded[0].ID != "a" || loaded[1].ID != "b" {
		t.Errorf("Expected oldest first, got %s then %s", loaded[0].ID, loaded[1].ID)
	}
	if !loaded[0].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt overwritten: %v", loaded[0].CreatedAt)
	}
	if loaded[0].Status != interfaces.ChannelStatusClosed {
		t.Errorf("Expected closed status, got %s", loaded[0].Status)
	}
	if !loaded[0].LastActiveAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("LastActiveAt not updated: %v", loaded[0].LastActiveAt)
	}
}

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	b, err := OpenBadger(dir, false, testLogger())
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	if err := b.Append(ctx, message("c1", 1, at)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBadger(dir, false, testLogger())
	if err != nil {
		t.Fatalf("Failed to reopen badger: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if err := reopened.Append(ctx, message("c1", 2, at)); err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	got, err := reopened.FetchHistory(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m-1" || got[1].ID != "m-2" {
		t.Errorf("Expected m-1 then m-2, got %+v", got)
	}
}

func TestBadger_Closed(t *testing.T) {
	b, err := OpenBadger("", true, testLogger())
	if err != nil {
		t.Fatalf("Failed to open in-memory badger: %v", err)
	}
	ctx := context.Background()

	if err := b.HealthCheck(ctx); err != nil {
		t.Errorf("Expected healthy store, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	if err := b.HealthCheck(ctx); !errors.Is(err, interfaces.ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed from HealthCheck, got %v", err)
	}
	if err := b.Append(ctx, message("c1", 1, time.Now())); !errors.Is(err, interfaces.ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed from Append, got %v", err)
	}
	if _, err := b.LoadChannels(ctx); !errors.Is(err, interfaces.ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed from LoadChannels, got %v", err)
	}
}
