package blocklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foliolab/pulse/internal/presence"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingValue     = errors.New("block value is required")
	errUnknownDimension = errors.New("unknown block dimension")
	noOpLogger          = zap.NewNop()
)

const (
	opBlock     = "blocklist.block"
	opUnblock   = "blocklist.unblock"
	opIsBlocked = "blocklist.is_blocked"
	opList      = "blocklist.list"
)

// ServiceError carries an operation/reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the blocklist filter.
type ServiceConfig struct {
	Database *gorm.DB
	Presence presence.Store
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service answers blocklist queries and evicts live presence records when a
// new block lands. Eviction is defense in depth; the reaper independently
// removes blocked records on its next sweep.
type Service struct {
	db       *gorm.DB
	presence presence.Store
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the blocklist service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("blocklist.service.new", "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		presence: cfg.Presence,
		clock:    clock,
		logger:   logger,
	}, nil
}

// IsBlocked reports whether any of the visitor id, IP or country matches a
// block entry. Empty or unknown fields never match.
func (s *Service) IsBlocked(ctx context.Context, visitorID, ip, country string) (bool, error) {
	type probe struct {
		dimension Dimension
		value     string
	}
	probes := []probe{
		{DimensionVisitor, strings.TrimSpace(visitorID)},
		{DimensionIP, strings.TrimSpace(ip)},
		{DimensionCountry, normalizeCountry(country)},
	}

	for _, p := range probes {
		if p.value == "" || p.value == strings.ToLower(presence.UnknownField) {
			continue
		}
		var count int64
		err := s.db.WithContext(ctx).Model(&Entry{}).
			Where("dimension = ? AND value = ?", p.dimension, p.value).
			Count(&count).Error
		if err != nil {
			return false, newServiceError(opIsBlocked, "query_failed", err)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// BlockRequest describes a new block entry.
type BlockRequest struct {
	Dimension Dimension
	Value     string
	Reason    string
	BlockedBy string
}

// Block persists the entry and evicts any currently live sessions matching
// it, so a blocked identity disappears from the active set immediately
// instead of lingering until timeout.
func (s *Service) Block(ctx context.Context, req BlockRequest) error {
	value, err := normalizeValue(req.Dimension, req.Value)
	if err != nil {
		return newServiceError(opBlock, "invalid_request", err)
	}

	entry := Entry{
		Dimension: req.Dimension,
		Value:     value,
		Reason:    strings.TrimSpace(req.Reason),
		BlockedBy: strings.TrimSpace(req.BlockedBy),
		CreatedAt: s.clock().UTC(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dimension"}, {Name: "value"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "blocked_by"}),
		}).
		Create(&entry).Error
	if err != nil {
		return newServiceError(opBlock, "insert_failed", err)
	}

	s.evictMatching(ctx, req.Dimension, value)
	return nil
}

// Unblock removes the entry; a previously blocked visitor may register again
// on their next connection.
func (s *Service) Unblock(ctx context.Context, dimension Dimension, value string) error {
	normalized, err := normalizeValue(dimension, value)
	if err != nil {
		return newServiceError(opUnblock, "invalid_request", err)
	}
	err = s.db.WithContext(ctx).
		Where("dimension = ? AND value = ?", dimension, normalized).
		Delete(&Entry{}).Error
	if err != nil {
		return newServiceError(opUnblock, "delete_failed", err)
	}
	return nil
}

// List returns every block entry, newest first.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&entries).Error
	if err != nil {
		return nil, newServiceError(opList, "query_failed", err)
	}
	return entries, nil
}

// evictMatching deletes live presence records matching the fresh block entry.
// Failures are logged and left for the reaper; eviction is best-effort.
func (s *Service) evictMatching(ctx context.Context, dimension Dimension, value string) {
	if s.presence == nil {
		return
	}
	records, err := s.presence.List(ctx)
	if err != nil {
		s.logger.Warn("blocklist eviction list failed", zap.Error(err))
		return
	}

	condemned := make([]string, 0)
	for _, record := range records {
		if matches(record, dimension, value) {
			condemned = append(condemned, record.SessionID)
		}
	}
	if len(condemned) == 0 {
		return
	}
	if err := s.presence.DeleteBatch(ctx, condemned); err != nil {
		s.logger.Warn("blocklist eviction delete failed",
			zap.String("dimension", string(dimension)),
			zap.Int("sessions", len(condemned)),
			zap.Error(err))
		return
	}
	s.logger.Info("evicted blocked sessions",
		zap.String("dimension", string(dimension)),
		zap.Int("sessions", len(condemned)))
}

func matches(record presence.Record, dimension Dimension, value string) bool {
	switch dimension {
	case DimensionVisitor:
		return record.VisitorID == value
	case DimensionIP:
		return record.IPAddress == value
	case DimensionCountry:
		return normalizeCountry(record.Country) == value
	default:
		return false
	}
}

func normalizeValue(dimension Dimension, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", errMissingValue
	}
	switch dimension {
	case DimensionVisitor, DimensionIP:
		return trimmed, nil
	case DimensionCountry:
		return normalizeCountry(trimmed), nil
	default:
		return "", errUnknownDimension
	}
}

func normalizeCountry(country string) string {
	return strings.ToLower(strings.TrimSpace(country))
}
