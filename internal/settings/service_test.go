package settings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:settings_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Setting{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestMaintenanceDefaultsToOff(t *testing.T) {
	service := newTestService(t)

	enabled, err := service.MaintenanceEnabled(context.Background())
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if enabled {
		t.Fatalf("a missing setting must mean the gate is off")
	}
}

func TestMaintenanceToggleRoundTrip(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if err := service.SetMaintenance(ctx, true, "admin"); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	enabled, err := service.MaintenanceEnabled(ctx)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if !enabled {
		t.Fatalf("expected the gate to be on")
	}

	if err := service.SetMaintenance(ctx, false, "admin"); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	enabled, err = service.MaintenanceEnabled(ctx)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if enabled {
		t.Fatalf("expected the gate to be off again")
	}
}
