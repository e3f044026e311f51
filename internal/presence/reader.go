package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultActiveWindow = 30 * time.Second
	defaultRefetchDelay = 5 * time.Second
)

var errMissingSeriesStore = errors.New("series store is required")

// SeriesPolicy tunes how the live-count series is de-noised, coarsened and
// capped. The defaults mirror the dashboard's observed behavior but every
// knob is configurable.
type SeriesPolicy struct {
	// DenoiseSampleThreshold and DenoiseWindow suppress a new sample when at
	// least that many samples already landed inside the window and the count
	// moved by no more than DenoiseMaxDelta.
	DenoiseSampleThreshold int
	DenoiseWindow          time.Duration
	DenoiseMaxDelta        int
	// HighResWindow keeps full resolution for recent samples; older ones are
	// coarsened to at most one per CoarseInterval.
	HighResWindow  time.Duration
	CoarseInterval time.Duration
	// MaxSamples caps the retained series length.
	MaxSamples int
}

// DefaultSeriesPolicy returns the observed production thresholds.
func DefaultSeriesPolicy() SeriesPolicy {
	return SeriesPolicy{
		DenoiseSampleThreshold: 20,
		DenoiseWindow:          time.Minute,
		DenoiseMaxDelta:        1,
		HighResWindow:          5 * time.Minute,
		CoarseInterval:         time.Minute,
		MaxSamples:             200,
	}
}

func (p SeriesPolicy) withDefaults() SeriesPolicy {
	defaults := DefaultSeriesPolicy()
	if p.DenoiseSampleThreshold <= 0 {
		p.DenoiseSampleThreshold = defaults.DenoiseSampleThreshold
	}
	if p.DenoiseWindow <= 0 {
		p.DenoiseWindow = defaults.DenoiseWindow
	}
	if p.DenoiseMaxDelta < 0 {
		p.DenoiseMaxDelta = defaults.DenoiseMaxDelta
	}
	if p.HighResWindow <= 0 {
		p.HighResWindow = defaults.HighResWindow
	}
	if p.CoarseInterval <= 0 {
		p.CoarseInterval = defaults.CoarseInterval
	}
	if p.MaxSamples <= 0 {
		p.MaxSamples = defaults.MaxSamples
	}
	return p
}

// Snapshot is one emission of the reader: the deduplicated live count plus
// the retained chart series.
type Snapshot struct {
	Current int      `json:"current"`
	History []Sample `json:"history"`
}

// ReaderConfig describes the dependencies of the presence reader.
type ReaderConfig struct {
	Store        Store
	Blocklist    Blocklist
	Series       SeriesStore
	Clock        func() time.Time
	Logger       *zap.Logger
	ActiveWindow time.Duration
	RefetchDelay time.Duration
	Policy       SeriesPolicy
}

// Reader recomputes the filtered, deduplicated active set on every change of
// the presence table and fans the resulting snapshots out to subscribers.
// A failed table read degrades to an empty snapshot and a delayed refetch;
// it never surfaces to subscribers as an error.
type Reader struct {
	store        Store
	blocklist    Blocklist
	seriesStore  SeriesStore
	clock        func() time.Time
	logger       *zap.Logger
	activeWindow time.Duration
	refetchDelay time.Duration
	policy       SeriesPolicy

	mu          sync.RWMutex
	series      []Sample
	latest      Snapshot
	subscribers map[int64]*readerSubscriber
	nextID      int64
}

type readerSubscriber struct {
	id     int64
	stream chan Snapshot
}

// NewReader constructs a reader with validated dependencies.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("presence.reader.new: %w", errMissingStore)
	}
	if cfg.Blocklist == nil {
		return nil, fmt.Errorf("presence.reader.new: %w", errMissingBlocklist)
	}
	if cfg.Series == nil {
		return nil, fmt.Errorf("presence.reader.new: %w", errMissingSeriesStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	activeWindow := cfg.ActiveWindow
	if activeWindow <= 0 {
		activeWindow = defaultActiveWindow
	}
	refetchDelay := cfg.RefetchDelay
	if refetchDelay <= 0 {
		refetchDelay = defaultRefetchDelay
	}
	return &Reader{
		store:        cfg.Store,
		blocklist:    cfg.Blocklist,
		seriesStore:  cfg.Series,
		clock:        clock,
		logger:       logger,
		activeWindow: activeWindow,
		refetchDelay: refetchDelay,
		policy:       cfg.Policy.withDefaults(),
		subscribers:  make(map[int64]*readerSubscriber),
	}, nil
}

// Start loads the persisted series, computes an initial snapshot and begins
// recomputing on every presence-table change. The returned stop function
// halts the loop.
func (r *Reader) Start(ctx context.Context) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	events, unsubscribe := r.store.Subscribe(loopCtx)

	if series, err := r.seriesStore.LoadSeries(loopCtx); err != nil {
		r.logger.Warn("history series load failed", zap.Error(err))
	} else {
		r.mu.Lock()
		r.series = series
		r.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Refresh(loopCtx)
		var refetch <-chan time.Time
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-refetch:
				refetch = nil
				if !r.Refresh(loopCtx) {
					refetch = time.After(r.refetchDelay)
				}
			case _, ok := <-events:
				if !ok {
					return
				}
				if !r.Refresh(loopCtx) {
					refetch = time.After(r.refetchDelay)
				}
			}
		}
	}()

	return func() {
		cancel()
		unsubscribe()
		<-done
	}
}

// Subscribe registers for snapshot emissions. Slow subscribers drop
// intermediate snapshots; the latest one is always retrievable via
// Snapshot.
func (r *Reader) Subscribe(ctx context.Context) (<-chan Snapshot, func()) {
	subscriber := &readerSubscriber{stream: make(chan Snapshot, 8)}
	r.mu.Lock()
	r.nextID++
	subscriber.id = r.nextID
	r.subscribers[subscriber.id] = subscriber
	r.mu.Unlock()

	cleanup := func() {
		r.mu.Lock()
		delete(r.subscribers, subscriber.id)
		r.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Snapshot returns the most recent emission.
func (r *Reader) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Refresh recomputes the active set once. It reports false when the
// underlying read failed and a refetch should be scheduled.
func (r *Reader) Refresh(ctx context.Context) bool {
	now := r.clock().UTC()

	records, err := r.store.List(ctx)
	if err != nil {
		r.logger.Warn("presence read failed", zap.Error(err))
		r.publish(Snapshot{Current: 0, History: nil})
		return false
	}

	live := r.liveRecords(ctx, records, now)
	current := len(live)

	r.mu.Lock()
	updated, appended := appendSample(r.series, Sample{Count: current, TimestampMs: now.UnixMilli()}, now, r.policy)
	r.series = updated
	history := make([]Sample, len(updated))
	copy(history, updated)
	r.mu.Unlock()

	if appended {
		if err := r.seriesStore.SaveSeries(ctx, history); err != nil {
			r.logger.Warn("history series save failed", zap.Error(err))
		}
	}

	r.publish(Snapshot{Current: current, History: history})
	return true
}

func (r *Reader) liveRecords(ctx context.Context, records []Record, now time.Time) []Record {
	return filterLive(ctx, records, now, r.activeWindow, r.blocklist, r.logger)
}

func (r *Reader) publish(snapshot Snapshot) {
	r.mu.Lock()
	r.latest = snapshot
	copies := make([]*readerSubscriber, 0, len(r.subscribers))
	for _, subscriber := range r.subscribers {
		copies = append(copies, subscriber)
	}
	r.mu.Unlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- snapshot:
		default:
		}
	}
}

// appendSample applies the de-noising, coarsening and cap policy. It returns
// the updated series and whether the sample was actually retained.
func appendSample(series []Sample, sample Sample, now time.Time, policy SeriesPolicy) ([]Sample, bool) {
	if len(series) > 0 {
		windowStart := now.Add(-policy.DenoiseWindow).UnixMilli()
		recent := 0
		for _, existing := range series {
			if existing.TimestampMs >= windowStart {
				recent++
			}
		}
		last := series[len(series)-1]
		delta := sample.Count - last.Count
		if delta < 0 {
			delta = -delta
		}
		if recent >= policy.DenoiseSampleThreshold && delta <= policy.DenoiseMaxDelta {
			return series, false
		}
	}

	updated := append(append([]Sample(nil), series...), sample)
	updated = coarsen(updated, now, policy)
	if overflow := len(updated) - policy.MaxSamples; overflow > 0 {
		updated = append([]Sample(nil), updated[overflow:]...)
	}
	return updated, true
}

// coarsen keeps full resolution inside the high-resolution window and at
// most one sample per coarse interval beyond it (the last sample of each
// bucket survives).
func coarsen(series []Sample, now time.Time, policy SeriesPolicy) []Sample {
	cutoff := now.Add(-policy.HighResWindow).UnixMilli()
	interval := policy.CoarseInterval.Milliseconds()

	result := make([]Sample, 0, len(series))
	for index, sample := range series {
		if sample.TimestampMs >= cutoff {
			result = append(result, sample)
			continue
		}
		bucket := sample.TimestampMs / interval
		if index+1 < len(series) {
			next := series[index+1]
			if next.TimestampMs < cutoff && next.TimestampMs/interval == bucket {
				continue
			}
		}
		result = append(result, sample)
	}
	return result
}
