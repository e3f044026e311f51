package projects

import "time"

// Project is one portfolio entry managed from the admin dashboard.
type Project struct {
	ProjectID     string    `gorm:"column:project_id;primaryKey;size:64;not null"`
	Title         string    `gorm:"column:title;size:190;not null"`
	Summary       string    `gorm:"column:summary;size:512"`
	Description   string    `gorm:"column:description"`
	RepoURL       string    `gorm:"column:repo_url;size:512"`
	LiveURL       string    `gorm:"column:live_url;size:512"`
	CoverImageURL string    `gorm:"column:cover_image_url;size:512"`
	TagsJSON      string    `gorm:"column:tags_json"`
	Featured      bool      `gorm:"column:featured;not null;default:false"`
	Visible       bool      `gorm:"column:visible;not null;default:true;index"`
	SortOrder     int64     `gorm:"column:sort_order;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing portfolio projects.
func (Project) TableName() string {
	return "projects"
}
