package visitors

import "time"

// VisitorRecord is the durable, append-only history for one visitor
// identity. TotalSessions never decreases and LastSeenAtMs only advances.
type VisitorRecord struct {
	VisitorID     string    `gorm:"column:visitor_id;primaryKey;size:190;not null"`
	FirstSeenAtMs int64     `gorm:"column:first_seen_at_ms;not null"`
	LastSeenAtMs  int64     `gorm:"column:last_seen_at_ms;not null;index"`
	TotalSessions int64     `gorm:"column:total_sessions;not null"`
	Browser       string    `gorm:"column:browser;size:120"`
	OS            string    `gorm:"column:os;size:120"`
	DeviceClass   string    `gorm:"column:device_class;size:16"`
	Country       string    `gorm:"column:country;size:120"`
	City          string    `gorm:"column:city;size:190"`
	IPAddress     string    `gorm:"column:ip_address;size:64"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing visitor history.
func (VisitorRecord) TableName() string {
	return "visitor_history"
}

// SeriesDocument holds one whole chart series as a JSON payload; saving it
// is a whole-document replace.
type SeriesDocument struct {
	Name        string    `gorm:"column:name;primaryKey;size:64;not null"`
	PayloadJSON string    `gorm:"column:payload_json;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing series documents.
func (SeriesDocument) TableName() string {
	return "presence_series"
}
