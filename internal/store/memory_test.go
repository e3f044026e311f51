package store

import (
	"context"
	"testing"
	"time"

	"github.com/foliolab/pulse/internal/presence"
)

func sampleRecord(sessionID string, beatMs int64) presence.Record {
	return presence.Record{
		SessionID:       sessionID,
		VisitorID:       "visitor-1",
		Browser:         "Firefox",
		OS:              "Linux",
		DeviceClass:     presence.DeviceDesktop,
		CurrentPage:     "/",
		CreatedAtMs:     beatMs,
		LastHeartbeatMs: beatMs,
		IsActive:        true,
		Status:          presence.StatusActive,
	}
}

func TestMemoryPutIsLastWriteWins(t *testing.T) {
	table := NewMemory()
	ctx := context.Background()

	first := sampleRecord("session-1", 1000)
	second := sampleRecord("session-1", 2000)
	second.CurrentPage = "/projects"

	if err := table.Put(ctx, first); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := table.Put(ctx, second); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	record, ok, err := table.Get(ctx, "session-1")
	if err != nil || !ok {
		t.Fatalf("expected the record to exist, ok=%v err=%v", ok, err)
	}
	if record.LastHeartbeatMs != 2000 || record.CurrentPage != "/projects" {
		t.Fatalf("expected the newest write to win, got %+v", record)
	}

	records, err := table.List(ctx)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
}

func TestMemoryIgnoresEmptySessionID(t *testing.T) {
	table := NewMemory()
	if err := table.Put(context.Background(), presence.Record{}); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	records, _ := table.List(context.Background())
	if len(records) != 0 {
		t.Fatalf("a record without a session id must not be stored")
	}
}

func TestMemorySubscribeReceivesMutations(t *testing.T) {
	table := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := table.Subscribe(ctx)
	defer unsubscribe()

	if err := table.Put(ctx, sampleRecord("session-1", 1000)); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := table.Delete(ctx, "session-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	expected := []presence.Event{
		{Kind: presence.EventPut, SessionID: "session-1"},
		{Kind: presence.EventDelete, SessionID: "session-1"},
	}
	for _, want := range expected {
		select {
		case got := <-events:
			if got != want {
				t.Fatalf("unexpected event %+v, want %+v", got, want)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timed out waiting for event %+v", want)
		}
	}
}

func TestMemoryDeleteBatchRemovesOnlyListedSessions(t *testing.T) {
	table := NewMemory()
	ctx := context.Background()

	for _, id := range []string{"session-1", "session-2", "session-3"} {
		if err := table.Put(ctx, sampleRecord(id, 1000)); err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
	}

	events, unsubscribe := table.Subscribe(ctx)
	defer unsubscribe()

	if err := table.DeleteBatch(ctx, []string{"session-1", "session-3", "session-missing"}); err != nil {
		t.Fatalf("unexpected batch delete error: %v", err)
	}

	records, _ := table.List(ctx)
	if len(records) != 1 || records[0].SessionID != "session-2" {
		t.Fatalf("expected only session-2 to survive, got %+v", records)
	}

	deletes := 0
	for deletes < 2 {
		select {
		case event := <-events:
			if event.Kind != presence.EventDelete {
				t.Fatalf("unexpected event kind %q", event.Kind)
			}
			deletes++
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timed out waiting for delete events, saw %d", deletes)
		}
	}
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	table := NewMemory()
	ctx := context.Background()

	events, unsubscribe := table.Subscribe(ctx)
	unsubscribe()

	if err := table.Put(ctx, sampleRecord("session-1", 1000)); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	select {
	case event, ok := <-events:
		if ok {
			t.Fatalf("unexpected event after unsubscribe: %+v", event)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
