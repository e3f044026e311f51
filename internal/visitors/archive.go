package visitors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foliolab/pulse/internal/presence"
	"gorm.io/gorm"
)

const liveSeriesName = "live_count"

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingVisitorID = errors.New("visitor identifier is required")
)

const (
	opRecordSession = "visitors.record_session"
	opFold          = "visitors.fold"
	opGet           = "visitors.get"
	opList          = "visitors.list"
	opLoadSeries    = "visitors.load_series"
	opSaveSeries    = "visitors.save_series"
)

// ArchiveError carries an operation/reason code alongside the cause.
type ArchiveError struct {
	code string
	err  error
}

func (e *ArchiveError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ArchiveError) Unwrap() error {
	return e.err
}

func (e *ArchiveError) Code() string {
	return e.code
}

func newArchiveError(operation, reason string, cause error) error {
	return &ArchiveError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ArchiveConfig describes the dependencies of the visitor archive.
type ArchiveConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Archive is the durable side of presence: per-visitor history records and
// the persisted chart series. It implements presence.HistoryArchive and
// presence.SeriesStore.
type Archive struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewArchive constructs the archive.
func NewArchive(cfg ArchiveConfig) (*Archive, error) {
	if cfg.Database == nil {
		return nil, newArchiveError("visitors.archive.new", "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Archive{db: cfg.Database, clock: clock}, nil
}

// RecordSession registers a new session for the visitor: the history record
// is created on first sight and TotalSessions is incremented on every
// registration. LastSeenAtMs never moves backward.
func (a *Archive) RecordSession(ctx context.Context, visitorID string, seenAtMs int64) error {
	trimmed := strings.TrimSpace(visitorID)
	if trimmed == "" {
		return newArchiveError(opRecordSession, "missing_visitor_id", errMissingVisitorID)
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record VisitorRecord
		err := tx.Where("visitor_id = ?", trimmed).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = VisitorRecord{
				VisitorID:     trimmed,
				FirstSeenAtMs: seenAtMs,
				LastSeenAtMs:  seenAtMs,
				TotalSessions: 1,
			}
			if err := tx.Create(&record).Error; err != nil {
				return newArchiveError(opRecordSession, "insert_failed", err)
			}
			return nil
		}
		if err != nil {
			return newArchiveError(opRecordSession, "select_failed", err)
		}

		updates := map[string]interface{}{
			"total_sessions": gorm.Expr("total_sessions + 1"),
		}
		if seenAtMs > record.LastSeenAtMs {
			updates["last_seen_at_ms"] = seenAtMs
		}
		if err := tx.Model(&VisitorRecord{}).Where("visitor_id = ?", trimmed).Updates(updates).Error; err != nil {
			return newArchiveError(opRecordSession, "update_failed", err)
		}
		return nil
	})
}

// Fold merges the last-known state of a reaped presence record into the
// visitor's history, creating the record when the registration-time write
// never landed. Folding the same state twice is a no-op beyond field
// refreshes, which keeps reaping idempotent.
func (a *Archive) Fold(ctx context.Context, fold presence.HistoryFold) error {
	trimmed := strings.TrimSpace(fold.VisitorID)
	if trimmed == "" {
		return newArchiveError(opFold, "missing_visitor_id", errMissingVisitorID)
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record VisitorRecord
		err := tx.Where("visitor_id = ?", trimmed).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = VisitorRecord{
				VisitorID:     trimmed,
				FirstSeenAtMs: fold.LastSeenMs,
				LastSeenAtMs:  fold.LastSeenMs,
				TotalSessions: 1,
				Browser:       fold.Browser,
				OS:            fold.OS,
				DeviceClass:   string(fold.DeviceClass),
				Country:       fold.Country,
				City:          fold.City,
				IPAddress:     fold.IPAddress,
			}
			if err := tx.Create(&record).Error; err != nil {
				return newArchiveError(opFold, "insert_failed", err)
			}
			return nil
		}
		if err != nil {
			return newArchiveError(opFold, "select_failed", err)
		}

		updates := map[string]interface{}{
			"browser":      fold.Browser,
			"os":           fold.OS,
			"device_class": string(fold.DeviceClass),
			"country":      fold.Country,
			"city":         fold.City,
			"ip_address":   fold.IPAddress,
		}
		if fold.LastSeenMs > record.LastSeenAtMs {
			updates["last_seen_at_ms"] = fold.LastSeenMs
		}
		if err := tx.Model(&VisitorRecord{}).Where("visitor_id = ?", trimmed).Updates(updates).Error; err != nil {
			return newArchiveError(opFold, "update_failed", err)
		}
		return nil
	})
}

// Get returns one visitor's history record.
func (a *Archive) Get(ctx context.Context, visitorID string) (VisitorRecord, error) {
	var record VisitorRecord
	err := a.db.WithContext(ctx).Where("visitor_id = ?", strings.TrimSpace(visitorID)).Take(&record).Error
	if err != nil {
		return VisitorRecord{}, newArchiveError(opGet, "select_failed", err)
	}
	return record, nil
}

// List returns visitor history records ordered by recency. A non-positive
// limit returns everything.
func (a *Archive) List(ctx context.Context, limit int) ([]VisitorRecord, error) {
	query := a.db.WithContext(ctx).Order("last_seen_at_ms DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []VisitorRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, newArchiveError(opList, "query_failed", err)
	}
	return records, nil
}

// LoadSeries returns the persisted chart series; a missing document yields
// an empty series, not an error.
func (a *Archive) LoadSeries(ctx context.Context) ([]presence.Sample, error) {
	var document SeriesDocument
	err := a.db.WithContext(ctx).Where("name = ?", liveSeriesName).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newArchiveError(opLoadSeries, "select_failed", err)
	}

	var samples []presence.Sample
	if err := json.Unmarshal([]byte(document.PayloadJSON), &samples); err != nil {
		return nil, newArchiveError(opLoadSeries, "decode_failed", err)
	}
	return samples, nil
}

// SaveSeries replaces the whole series document.
func (a *Archive) SaveSeries(ctx context.Context, samples []presence.Sample) error {
	payload, err := json.Marshal(samples)
	if err != nil {
		return newArchiveError(opSaveSeries, "encode_failed", err)
	}

	document := SeriesDocument{Name: liveSeriesName, PayloadJSON: string(payload)}
	err = a.db.WithContext(ctx).Save(&document).Error
	if err != nil {
		return newArchiveError(opSaveSeries, "save_failed", err)
	}
	return nil
}
