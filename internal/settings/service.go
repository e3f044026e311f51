package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const keyMaintenanceMode = "maintenance_mode"

var errMissingDatabase = errors.New("database handle is required")

// Setting is one persisted site-wide configuration value.
type Setting struct {
	Key       string    `gorm:"column:key;primaryKey;size:64;not null"`
	Value     string    `gorm:"column:value;size:512"`
	UpdatedBy string    `gorm:"column:updated_by;size:190"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing site settings.
func (Setting) TableName() string {
	return "site_settings"
}

// ServiceConfig describes the dependencies of the settings service.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service persists site-wide toggles, currently only maintenance mode. The
// public API returns 503 while maintenance mode is enabled; the admin
// surface bypasses the gate.
type Service struct {
	db *gorm.DB
}

// NewService constructs the settings service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("settings.service.new: %w", errMissingDatabase)
	}
	return &Service{db: cfg.Database}, nil
}

// MaintenanceEnabled reports whether the site is gated. A missing setting
// means the gate is off.
func (s *Service) MaintenanceEnabled(ctx context.Context) (bool, error) {
	var setting Setting
	err := s.db.WithContext(ctx).Where("key = ?", keyMaintenanceMode).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("settings.maintenance.read: %w", err)
	}
	return setting.Value == "on", nil
}

// SetMaintenance flips the gate and records who flipped it.
func (s *Service) SetMaintenance(ctx context.Context, enabled bool, updatedBy string) error {
	value := "off"
	if enabled {
		value = "on"
	}
	setting := Setting{Key: keyMaintenanceMode, Value: value, UpdatedBy: updatedBy}
	if err := s.db.WithContext(ctx).Save(&setting).Error; err != nil {
		return fmt.Errorf("settings.maintenance.write: %w", err)
	}
	return nil
}
