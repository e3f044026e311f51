package presence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 5 * time.Second

// ReaperConfig describes the dependencies of the inactivity reaper.
type ReaperConfig struct {
	Store         Store
	Blocklist     Blocklist
	Archive       HistoryArchive
	Series        SeriesStore
	Clock         func() time.Time
	Logger        *zap.Logger
	ActiveWindow  time.Duration
	SweepInterval time.Duration
}

// Reaper periodically prunes the presence table: stale records are folded
// into durable visitor history before deletion, malformed and freshly
// blocked records are simply removed. Sweeps are idempotent; running two in
// a row without new activity mutates nothing on the second pass.
type Reaper struct {
	store        Store
	blocklist    Blocklist
	archive      HistoryArchive
	series       SeriesStore
	clock        func() time.Time
	logger       *zap.Logger
	activeWindow time.Duration
	interval     time.Duration
}

// NewReaper constructs a reaper with validated dependencies.
func NewReaper(cfg ReaperConfig) (*Reaper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("presence.reaper.new: %w", errMissingStore)
	}
	if cfg.Blocklist == nil {
		return nil, fmt.Errorf("presence.reaper.new: %w", errMissingBlocklist)
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
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Reaper{
		store:        cfg.Store,
		blocklist:    cfg.Blocklist,
		archive:      cfg.Archive,
		series:       cfg.Series,
		clock:        clock,
		logger:       logger,
		activeWindow: activeWindow,
		interval:     interval,
	}, nil
}

// Start runs the sweep loop until the context is canceled or the returned
// stop function is invoked.
func (r *Reaper) Start(ctx context.Context) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := r.Sweep(loopCtx); err != nil {
					r.logger.Warn("presence sweep failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Sweep classifies every presence record and removes the condemned ones in a
// single batch. Stale-but-valid records are folded into visitor history
// first; malformed records carry no trustworthy identity and are dropped
// without a fold.
func (r *Reaper) Sweep(ctx context.Context) error {
	now := r.clock().UTC()

	records, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("presence.reaper.sweep: list failed: %w", err)
	}

	condemned := make([]string, 0)
	folds := make([]HistoryFold, 0)
	var stale, malformed, blockedCount int

	for _, record := range records {
		switch {
		case !record.Valid():
			malformed++
			condemned = append(condemned, record.SessionID)
		case r.isBlockedNow(ctx, record):
			blockedCount++
			condemned = append(condemned, record.SessionID)
		case record.Stale(now, r.activeWindow):
			stale++
			condemned = append(condemned, record.SessionID)
			folds = append(folds, HistoryFold{
				VisitorID:   record.VisitorID,
				LastSeenMs:  record.LastHeartbeatMs,
				Browser:     record.Browser,
				OS:          record.OS,
				DeviceClass: record.DeviceClass,
				Country:     record.Country,
				City:        record.City,
				IPAddress:   record.IPAddress,
			})
		}
	}

	if len(condemned) == 0 {
		return nil
	}

	if r.archive != nil {
		for _, fold := range folds {
			if err := r.archive.Fold(ctx, fold); err != nil {
				r.logger.Warn("visitor history fold failed",
					zap.String("visitor_id", fold.VisitorID),
					zap.Error(err))
			}
		}
	}

	if err := r.store.DeleteBatch(ctx, condemned); err != nil {
		return fmt.Errorf("presence.reaper.sweep: delete failed: %w", err)
	}

	r.logger.Debug("presence sweep completed",
		zap.Int("stale", stale),
		zap.Int("malformed", malformed),
		zap.Int("blocked", blockedCount))
	return nil
}

// Rebuild is the operational full reset: it runs a sweep, re-derives the
// live count from scratch and reseeds the chart series with a single
// current-truth sample. Used to recover a corrupted or drifted count.
func (r *Reaper) Rebuild(ctx context.Context) (int, error) {
	if err := r.Sweep(ctx); err != nil {
		return 0, err
	}

	now := r.clock().UTC()
	records, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("presence.reaper.rebuild: list failed: %w", err)
	}
	current := len(filterLive(ctx, records, now, r.activeWindow, r.blocklist, r.logger))

	if r.series != nil {
		seed := []Sample{{Count: current, TimestampMs: now.UnixMilli()}}
		if err := r.series.SaveSeries(ctx, seed); err != nil {
			return current, fmt.Errorf("presence.reaper.rebuild: series reset failed: %w", err)
		}
	}

	r.logger.Info("presence rebuilt", zap.Int("current", current))
	return current, nil
}

func (r *Reaper) isBlockedNow(ctx context.Context, record Record) bool {
	blocked, err := r.blocklist.IsBlocked(ctx, record.VisitorID, record.IPAddress, record.Country)
	if err != nil {
		r.logger.Warn("blocklist check failed during sweep",
			zap.String("visitor_id", record.VisitorID),
			zap.Error(err))
		return false
	}
	return blocked
}
