package presence

import (
	"strings"
	"time"
)

// Status reflects the lifecycle of a presence record.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBlocked  Status = "blocked"
)

// DeviceClass is the coarse device category parsed from the user agent.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
)

// UnknownField is the placeholder for fields whose best-effort resolution
// failed. It never matches a block entry.
const UnknownField = "Unknown"

// Record is one ephemeral presence entry, keyed by session id. A visitor with
// several open tabs owns several records sharing one VisitorID.
type Record struct {
	SessionID       string      `json:"session_id"`
	VisitorID       string      `json:"visitor_id"`
	IPAddress       string      `json:"ip_address"`
	Country         string      `json:"country"`
	City            string      `json:"city"`
	Browser         string      `json:"browser"`
	OS              string      `json:"os"`
	DeviceClass     DeviceClass `json:"device_class"`
	CurrentPage     string      `json:"current_page"`
	CreatedAtMs     int64       `json:"created_at_ms"`
	LastHeartbeatMs int64       `json:"last_heartbeat_ms"`
	IsActive        bool        `json:"is_active"`
	Status          Status      `json:"status"`
}

// Valid reports whether the record carries every required field. Records
// failing this check are corrupt and eligible for reaping regardless of
// recency.
func (r Record) Valid() bool {
	if strings.TrimSpace(r.SessionID) == "" {
		return false
	}
	if strings.TrimSpace(r.VisitorID) == "" {
		return false
	}
	if strings.TrimSpace(r.Browser) == "" {
		return false
	}
	switch r.DeviceClass {
	case DeviceDesktop, DeviceMobile, DeviceTablet:
		return true
	default:
		return false
	}
}

// Live reports whether the record counts toward current presence: it must be
// valid, active, not blocked and its heartbeat must fall inside the active
// window.
func (r Record) Live(now time.Time, activeWindow time.Duration) bool {
	if !r.Valid() {
		return false
	}
	if !r.IsActive || r.Status == StatusBlocked {
		return false
	}
	return now.UnixMilli()-r.LastHeartbeatMs < activeWindow.Milliseconds()
}

// Stale reports whether the heartbeat has aged out of the active window.
func (r Record) Stale(now time.Time, activeWindow time.Duration) bool {
	return now.UnixMilli()-r.LastHeartbeatMs >= activeWindow.Milliseconds()
}
