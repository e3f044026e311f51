package blocklist

import "time"

// Dimension selects which identity a block entry matches against.
type Dimension string

const (
	DimensionVisitor Dimension = "visitor"
	DimensionIP      Dimension = "ip"
	DimensionCountry Dimension = "country"
)

// Entry denies tracking and counted presence for one identity. Country
// entries are coarse: they match every visitor resolved to that country.
type Entry struct {
	Dimension Dimension `gorm:"column:dimension;primaryKey;size:16;not null"`
	Value     string    `gorm:"column:value;primaryKey;size:190;not null"`
	Reason    string    `gorm:"column:reason;size:512"`
	BlockedBy string    `gorm:"column:blocked_by;size:190"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing block entries.
func (Entry) TableName() string {
	return "block_entries"
}
