package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingProjectID = errors.New("project identifier is required")
	errMissingTitle     = errors.New("project title is required")
	// ErrNotFound indicates the requested project does not exist.
	ErrNotFound = errors.New("projects: not found")
)

const (
	opCreate = "projects.create"
	opUpdate = "projects.update"
	opDelete = "projects.delete"
	opGet    = "projects.get"
	opList   = "projects.list"
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

// ServiceConfig describes the dependencies of the project catalog.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages the portfolio project catalog.
type Service struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewService constructs the project service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("projects.service.new", "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, clock: clock}, nil
}

// Draft carries the writable fields of a project.
type Draft struct {
	Title         string
	Summary       string
	Description   string
	RepoURL       string
	LiveURL       string
	CoverImageURL string
	Tags          []string
	Featured      bool
	Visible       bool
	SortOrder     int64
}

// Create persists a new project and returns it with a generated identifier.
func (s *Service) Create(ctx context.Context, draft Draft) (Project, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return Project{}, newServiceError(opCreate, "missing_title", errMissingTitle)
	}

	project := Project{
		ProjectID:     uuid.NewString(),
		Title:         strings.TrimSpace(draft.Title),
		Summary:       strings.TrimSpace(draft.Summary),
		Description:   draft.Description,
		RepoURL:       strings.TrimSpace(draft.RepoURL),
		LiveURL:       strings.TrimSpace(draft.LiveURL),
		CoverImageURL: strings.TrimSpace(draft.CoverImageURL),
		TagsJSON:      encodeTags(draft.Tags),
		Featured:      draft.Featured,
		Visible:       draft.Visible,
		SortOrder:     draft.SortOrder,
	}
	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		return Project{}, newServiceError(opCreate, "insert_failed", err)
	}
	return project, nil
}

// Update replaces the writable fields of an existing project.
func (s *Service) Update(ctx context.Context, projectID string, draft Draft) (Project, error) {
	trimmedID := strings.TrimSpace(projectID)
	if trimmedID == "" {
		return Project{}, newServiceError(opUpdate, "missing_project_id", errMissingProjectID)
	}
	if strings.TrimSpace(draft.Title) == "" {
		return Project{}, newServiceError(opUpdate, "missing_title", errMissingTitle)
	}

	updates := map[string]interface{}{
		"title":           strings.TrimSpace(draft.Title),
		"summary":         strings.TrimSpace(draft.Summary),
		"description":     draft.Description,
		"repo_url":        strings.TrimSpace(draft.RepoURL),
		"live_url":        strings.TrimSpace(draft.LiveURL),
		"cover_image_url": strings.TrimSpace(draft.CoverImageURL),
		"tags_json":       encodeTags(draft.Tags),
		"featured":        draft.Featured,
		"visible":         draft.Visible,
		"sort_order":      draft.SortOrder,
	}
	result := s.db.WithContext(ctx).Model(&Project{}).Where("project_id = ?", trimmedID).Updates(updates)
	if result.Error != nil {
		return Project{}, newServiceError(opUpdate, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Project{}, ErrNotFound
	}
	return s.Get(ctx, trimmedID)
}

// Delete removes a project permanently.
func (s *Service) Delete(ctx context.Context, projectID string) error {
	trimmedID := strings.TrimSpace(projectID)
	if trimmedID == "" {
		return newServiceError(opDelete, "missing_project_id", errMissingProjectID)
	}
	result := s.db.WithContext(ctx).Where("project_id = ?", trimmedID).Delete(&Project{})
	if result.Error != nil {
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one project by identifier.
func (s *Service) Get(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.WithContext(ctx).Where("project_id = ?", strings.TrimSpace(projectID)).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, newServiceError(opGet, "select_failed", err)
	}
	return project, nil
}

// List returns projects in display order. When visibleOnly is set, hidden
// projects are excluded; the public API always asks for visible projects.
func (s *Service) List(ctx context.Context, visibleOnly bool) ([]Project, error) {
	query := s.db.WithContext(ctx).Order("sort_order ASC, created_at DESC")
	if visibleOnly {
		query = query.Where("visible = ?", true)
	}
	var list []Project
	if err := query.Find(&list).Error; err != nil {
		return nil, newServiceError(opList, "query_failed", err)
	}
	return list, nil
}

// Tags decodes the stored tag list.
func (p Project) Tags() []string {
	if strings.TrimSpace(p.TagsJSON) == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(p.TagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

func encodeTags(tags []string) string {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}
	payload, err := json.Marshal(cleaned)
	if err != nil {
		return ""
	}
	return string(payload)
}
