package presence

import "context"

// Sample is one point of the live-count time series rendered by the
// dashboard chart.
type Sample struct {
	Count       int   `json:"count"`
	TimestampMs int64 `json:"timestamp_ms"`
}

// SeriesStore persists the chart series as a single document; SaveSeries is
// a whole-document replace.
type SeriesStore interface {
	LoadSeries(ctx context.Context) ([]Sample, error)
	SaveSeries(ctx context.Context, samples []Sample) error
}

// HistoryFold carries the last-known state of a reaped presence record into
// the visitor's durable history.
type HistoryFold struct {
	VisitorID   string
	LastSeenMs  int64
	Browser     string
	OS          string
	DeviceClass DeviceClass
	Country     string
	City        string
	IPAddress   string
}

// HistoryArchive is the durable per-visitor record. RecordSession runs at
// registration time, Fold at reap time; both must keep LastSeenAt and
// TotalSessions monotonically non-decreasing.
type HistoryArchive interface {
	RecordSession(ctx context.Context, visitorID string, seenAtMs int64) error
	Fold(ctx context.Context, fold HistoryFold) error
}

// Blocklist answers whether any of the three identity dimensions is denied.
type Blocklist interface {
	IsBlocked(ctx context.Context, visitorID, ip, country string) (bool, error)
}
