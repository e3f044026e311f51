package presence

import (
	"context"
	"testing"
	"time"
)

func newTestReader(t *testing.T, table *fakeTable, blocked *fakeBlocklist, series *fakeSeries, clock func() time.Time) *Reader {
	t.Helper()
	reader, err := NewReader(ReaderConfig{
		Store:        table,
		Blocklist:    blocked,
		Series:       series,
		Clock:        clock,
		ActiveWindow: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected reader construction error: %v", err)
	}
	return reader
}

func TestReaderDeduplicatesByVisitor(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }
	table := newFakeTable()
	series := &fakeSeries{}
	reader := newTestReader(t, table, newFakeBlocklist(), series, clock)

	first := baseRecord(now)
	first.SessionID = "tab-1"
	second := baseRecord(now)
	second.SessionID = "tab-2"
	second.LastHeartbeatMs = now.Add(-2 * time.Second).UnixMilli()
	if err := table.Put(context.Background(), first); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := table.Put(context.Background(), second); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	if ok := reader.Refresh(context.Background()); !ok {
		t.Fatalf("expected refresh to succeed")
	}
	if got := reader.Snapshot().Current; got != 1 {
		t.Fatalf("two tabs of one visitor must count once, got %d", got)
	}

	other := baseRecord(now)
	other.SessionID = "tab-3"
	other.VisitorID = "visitor-2"
	if err := table.Put(context.Background(), other); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	reader.Refresh(context.Background())
	if got := reader.Snapshot().Current; got != 2 {
		t.Fatalf("expected two distinct visitors, got %d", got)
	}
}

func TestReaderExcludesAgedHiddenAndMalformedRecords(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }
	table := newFakeTable()
	reader := newTestReader(t, table, newFakeBlocklist(), &fakeSeries{}, clock)

	aged := baseRecord(now)
	aged.SessionID = "aged"
	aged.VisitorID = "visitor-aged"
	aged.LastHeartbeatMs = now.Add(-31 * time.Second).UnixMilli()

	hidden := baseRecord(now)
	hidden.SessionID = "hidden"
	hidden.VisitorID = "visitor-hidden"
	hidden.IsActive = false
	hidden.Status = StatusInactive

	malformed := baseRecord(now)
	malformed.SessionID = "malformed"
	malformed.VisitorID = "visitor-malformed"
	malformed.Browser = ""

	live := baseRecord(now)
	live.SessionID = "live"
	live.VisitorID = "visitor-live"

	for _, record := range []Record{aged, hidden, malformed, live} {
		if err := table.Put(context.Background(), record); err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
	}

	reader.Refresh(context.Background())
	if got := reader.Snapshot().Current; got != 1 {
		t.Fatalf("expected 1 live visitor, got %d", got)
	}
}

func TestReaderExcludesBlockedVisitors(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }
	table := newFakeTable()
	blocked := newFakeBlocklist()
	blocked.ips["203.0.113.5"] = true
	reader := newTestReader(t, table, blocked, &fakeSeries{}, clock)

	record := baseRecord(now)
	if err := table.Put(context.Background(), record); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	reader.Refresh(context.Background())
	if got := reader.Snapshot().Current; got != 0 {
		t.Fatalf("blocked ip must never be counted, got %d", got)
	}
}

func TestReaderReadFailureEmitsZeroSnapshot(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }
	table := newFakeTable()
	table.failList = true
	reader := newTestReader(t, table, newFakeBlocklist(), &fakeSeries{}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snapshots, unsubscribe := reader.Subscribe(ctx)
	defer unsubscribe()

	if ok := reader.Refresh(context.Background()); ok {
		t.Fatalf("expected refresh to report failure")
	}

	select {
	case snapshot := <-snapshots:
		if snapshot.Current != 0 {
			t.Fatalf("degraded snapshot must report zero, got %d", snapshot.Current)
		}
		if len(snapshot.History) != 0 {
			t.Fatalf("degraded snapshot must report empty history")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a degraded snapshot emission")
	}
}

func TestReaderPersistsSeriesOnRefresh(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }
	table := newFakeTable()
	series := &fakeSeries{}
	reader := newTestReader(t, table, newFakeBlocklist(), series, clock)

	if err := table.Put(context.Background(), baseRecord(now)); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	reader.Refresh(context.Background())

	stored := series.stored()
	if len(stored) != 1 {
		t.Fatalf("expected one persisted sample, got %d", len(stored))
	}
	if stored[0].Count != 1 || stored[0].TimestampMs != now.UnixMilli() {
		t.Fatalf("unexpected persisted sample %+v", stored[0])
	}
}

func TestAppendSampleDenoisesRapidSmallMoves(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	policy := DefaultSeriesPolicy()

	series := make([]Sample, 0, 25)
	appended := 0
	for i := 0; i < 25; i++ {
		at := now.Add(time.Duration(i*2) * time.Second)
		count := 4 + i%2
		updated, kept := appendSample(series, Sample{Count: count, TimestampMs: at.UnixMilli()}, at, policy)
		series = updated
		if kept {
			appended++
		}
	}

	// Once 20 samples land inside a minute, oscillation between 4 and 5
	// stops producing new samples.
	if appended > policy.DenoiseSampleThreshold {
		t.Fatalf("expected at most %d retained samples, got %d", policy.DenoiseSampleThreshold, appended)
	}
	if len(series) > policy.DenoiseSampleThreshold {
		t.Fatalf("series grew past the de-noising threshold: %d", len(series))
	}
}

func TestAppendSampleKeepsLargeMoves(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	policy := DefaultSeriesPolicy()

	series := make([]Sample, 0, 21)
	for i := 0; i < 20; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		series, _ = appendSample(series, Sample{Count: 4, TimestampMs: at.UnixMilli()}, at, policy)
	}

	at := now.Add(21 * time.Second)
	updated, kept := appendSample(series, Sample{Count: 9, TimestampMs: at.UnixMilli()}, at, policy)
	if !kept {
		t.Fatalf("a move larger than the delta threshold must be retained")
	}
	if updated[len(updated)-1].Count != 9 {
		t.Fatalf("expected the large move to be the newest sample")
	}
}

func TestAppendSampleNeverExceedsCap(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	policy := SeriesPolicy{
		DenoiseSampleThreshold: 1000,
		DenoiseWindow:          time.Minute,
		HighResWindow:          time.Hour,
		CoarseInterval:         time.Minute,
		MaxSamples:             10,
	}.withDefaults()

	var series []Sample
	for i := 0; i < 50; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		series, _ = appendSample(series, Sample{Count: i, TimestampMs: at.UnixMilli()}, at, policy)
		if len(series) > policy.MaxSamples {
			t.Fatalf("series exceeded cap after %d appends: %d", i+1, len(series))
		}
	}
	if len(series) != policy.MaxSamples {
		t.Fatalf("expected a full series at the cap, got %d", len(series))
	}
	if series[len(series)-1].Count != 49 {
		t.Fatalf("cap must drop the oldest samples, newest kept")
	}
}

func TestCoarsenCollapsesOldSamplesPerMinute(t *testing.T) {
	policy := DefaultSeriesPolicy()
	base := time.Unix(1700000000, 0).UTC().Truncate(time.Minute)
	now := base.Add(20 * time.Minute)

	// Ten samples inside one old minute bucket plus one recent sample.
	var series []Sample
	for i := 0; i < 10; i++ {
		series = append(series, Sample{Count: i, TimestampMs: base.Add(time.Duration(i*5) * time.Second).UnixMilli()})
	}
	series = append(series, Sample{Count: 3, TimestampMs: now.Add(-time.Second).UnixMilli()})

	coarsened := coarsen(series, now, policy)

	old := 0
	cutoff := now.Add(-policy.HighResWindow).UnixMilli()
	for _, sample := range coarsened {
		if sample.TimestampMs < cutoff {
			old++
		}
	}
	if old != 1 {
		t.Fatalf("expected one survivor per coarse bucket, got %d", old)
	}
	if coarsened[len(coarsened)-1].Count != 3 {
		t.Fatalf("recent samples must survive coarsening untouched")
	}
}
