package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/foliolab/pulse/internal/geo"
	"github.com/google/uuid"
	"github.com/mileusna/useragent"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	geoResolveTimeout        = 4 * time.Second
)

var (
	errMissingStore     = errors.New("presence store is required")
	errMissingBlocklist = errors.New("blocklist is required")
	noOpLogger          = zap.NewNop()
)

// TrackerConfig describes the dependencies of the session tracker.
type TrackerConfig struct {
	Store             Store
	Blocklist         Blocklist
	Archive           HistoryArchive
	Geo               geo.Resolver
	Clock             func() time.Time
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

// Tracker registers visitor sessions in the presence table and keeps their
// heartbeats fresh for as long as each session lives.
type Tracker struct {
	store     Store
	blocklist Blocklist
	archive   HistoryArchive
	geo       geo.Resolver
	clock     func() time.Time
	logger    *zap.Logger
	interval  time.Duration
}

// NewTracker constructs a tracker with validated dependencies.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("presence.tracker.new: %w", errMissingStore)
	}
	if cfg.Blocklist == nil {
		return nil, fmt.Errorf("presence.tracker.new: %w", errMissingBlocklist)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Tracker{
		store:     cfg.Store,
		blocklist: cfg.Blocklist,
		archive:   cfg.Archive,
		geo:       cfg.Geo,
		clock:     clock,
		logger:    logger,
		interval:  interval,
	}, nil
}

// StartRequest carries the connection-derived inputs for a new session.
type StartRequest struct {
	VisitorID string
	RemoteIP  string
	UserAgent string
	Page      string
}

// Start resolves the visitor identity, geolocation and user-agent fields,
// consults the blocklist and, unless the visitor is denied, registers a
// presence record and begins heartbeating. The returned session is always
// non-nil; for a blocked visitor it is an untracked no-op handle, never an
// error a caller could surface.
func (t *Tracker) Start(ctx context.Context, req StartRequest) (*Session, error) {
	visitorID := strings.TrimSpace(req.VisitorID)
	if visitorID == "" {
		visitorID = uuid.NewString()
	}

	location := t.resolveLocation(ctx, req.RemoteIP)
	browser, os, deviceClass := parseUserAgent(req.UserAgent)

	blocked, err := t.blocklist.IsBlocked(ctx, visitorID, req.RemoteIP, location.Country)
	if err != nil {
		// Fail open: a broken blocklist must not stop telemetry.
		t.logger.Warn("blocklist check failed", zap.Error(err))
	}
	if blocked {
		t.logger.Info("refused blocked visitor",
			zap.String("visitor_id", visitorID),
			zap.String("country", location.Country))
		return &Session{visitorID: visitorID}, nil
	}

	now := t.clock().UTC()
	record := Record{
		SessionID:       uuid.NewString(),
		VisitorID:       visitorID,
		IPAddress:       strings.TrimSpace(req.RemoteIP),
		Country:         location.Country,
		City:            location.City,
		Browser:         browser,
		OS:              os,
		DeviceClass:     deviceClass,
		CurrentPage:     normalizePage(req.Page),
		CreatedAtMs:     now.UnixMilli(),
		LastHeartbeatMs: now.UnixMilli(),
		IsActive:        true,
		Status:          StatusActive,
	}

	if err := withRetry(ctx, func() error { return t.store.Put(ctx, record) }); err != nil {
		t.logger.Warn("presence registration failed",
			zap.String("session_id", record.SessionID),
			zap.Error(err))
		return &Session{visitorID: visitorID}, nil
	}

	if t.archive != nil {
		if err := t.archive.RecordSession(ctx, visitorID, now.UnixMilli()); err != nil {
			t.logger.Warn("visitor history registration failed",
				zap.String("visitor_id", visitorID),
				zap.Error(err))
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &Session{
		tracker:   t,
		visitorID: visitorID,
		record:    record,
		cancel:    cancel,
		done:      make(chan struct{}),
		tracked:   true,
	}
	go session.heartbeatLoop(loopCtx)
	return session, nil
}

func (t *Tracker) resolveLocation(ctx context.Context, ip string) geo.Location {
	if t.geo == nil || strings.TrimSpace(ip) == "" {
		return geo.Location{Country: UnknownField, City: UnknownField}
	}
	resolveCtx, cancel := context.WithTimeout(ctx, geoResolveTimeout)
	defer cancel()
	location, err := t.geo.Resolve(resolveCtx, ip)
	if err != nil {
		t.logger.Debug("geolocation unresolved", zap.String("ip", ip), zap.Error(err))
		return geo.Location{Country: UnknownField, City: UnknownField}
	}
	if location.Country == "" {
		location.Country = UnknownField
	}
	if location.City == "" {
		location.City = UnknownField
	}
	return location
}

func parseUserAgent(raw string) (browser, os string, deviceClass DeviceClass) {
	ua := useragent.Parse(raw)
	browser = ua.Name
	if strings.TrimSpace(browser) == "" {
		browser = UnknownField
	}
	os = ua.OS
	if strings.TrimSpace(os) == "" {
		os = UnknownField
	}
	switch {
	case ua.Tablet:
		deviceClass = DeviceTablet
	case ua.Mobile:
		deviceClass = DeviceMobile
	default:
		deviceClass = DeviceDesktop
	}
	return browser, os, deviceClass
}

func normalizePage(page string) string {
	trimmed := strings.TrimSpace(page)
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// Session is the live handle for one tracked browser session. All methods
// are safe for concurrent use; on an untracked (blocked or failed) session
// every method is a no-op.
type Session struct {
	tracker   *Tracker
	visitorID string

	mu      sync.Mutex
	record  Record
	stopped bool

	cancel   context.CancelFunc
	done     chan struct{}
	tracked  bool
	stopOnce sync.Once
}

// Tracked reports whether the session registered a presence record.
func (s *Session) Tracked() bool {
	return s.tracked
}

// VisitorID returns the resolved persistent visitor identity.
func (s *Session) VisitorID() string {
	return s.visitorID
}

// SessionID returns the per-connection session identity; empty when
// untracked.
func (s *Session) SessionID() string {
	if !s.tracked {
		return ""
	}
	return s.record.SessionID
}

// Navigate records a page change and issues an immediate heartbeat.
func (s *Session) Navigate(page string) {
	if s == nil || !s.tracked {
		return
	}
	s.mutate(func(record *Record) {
		record.CurrentPage = normalizePage(page)
	})
}

// SetVisible mirrors tab visibility: a hidden tab stays registered but drops
// out of the live count.
func (s *Session) SetVisible(visible bool) {
	if s == nil || !s.tracked {
		return
	}
	s.mutate(func(record *Record) {
		record.IsActive = visible
		if visible {
			record.Status = StatusActive
		} else {
			record.Status = StatusInactive
		}
	})
}

// Heartbeat refreshes the record's last-activity timestamp immediately.
func (s *Session) Heartbeat() {
	if s == nil || !s.tracked {
		return
	}
	s.mutate(func(*Record) {})
}

// Stop halts the heartbeat loop and deletes the presence record. Safe to
// call more than once.
func (s *Session) Stop() {
	if s == nil || !s.tracked {
		return
	}
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cancel()
		<-s.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracker.store.Delete(ctx, s.record.SessionID); err != nil {
			s.tracker.logger.Warn("presence deregistration failed",
				zap.String("session_id", s.record.SessionID),
				zap.Error(err))
		}
	})
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tracker.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mutate(func(*Record) {})
		}
	}
}

// mutate applies fn to the guarded record, stamps a fresh heartbeat and
// writes the result. A write failure is logged and the next beat retries
// from current state. After Stop the session is deregistered, so a late
// call must not write the record back.
func (s *Session) mutate(fn func(*Record)) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	fn(&s.record)
	s.record.LastHeartbeatMs = s.tracker.clock().UTC().UnixMilli()
	record := s.record
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := withRetry(ctx, func() error { return s.tracker.store.Put(ctx, record) }); err != nil {
		s.tracker.logger.Warn("presence heartbeat failed",
			zap.String("session_id", record.SessionID),
			zap.Error(err))
	}
}
