package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/foliolab/pulse/internal/blocklist"
	"github.com/foliolab/pulse/internal/projects"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type projectPayload struct {
	ProjectID     string   `json:"project_id"`
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	Description   string   `json:"description"`
	RepoURL       string   `json:"repo_url"`
	LiveURL       string   `json:"live_url"`
	CoverImageURL string   `json:"cover_image_url"`
	Tags          []string `json:"tags"`
	Featured      bool     `json:"featured"`
	Visible       bool     `json:"visible"`
	SortOrder     int64    `json:"sort_order"`
}

type projectDraftPayload struct {
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	Description   string   `json:"description"`
	RepoURL       string   `json:"repo_url"`
	LiveURL       string   `json:"live_url"`
	CoverImageURL string   `json:"cover_image_url"`
	Tags          []string `json:"tags"`
	Featured      bool     `json:"featured"`
	Visible       bool     `json:"visible"`
	SortOrder     int64    `json:"sort_order"`
}

func toProjectPayload(project projects.Project) projectPayload {
	return projectPayload{
		ProjectID:     project.ProjectID,
		Title:         project.Title,
		Summary:       project.Summary,
		Description:   project.Description,
		RepoURL:       project.RepoURL,
		LiveURL:       project.LiveURL,
		CoverImageURL: project.CoverImageURL,
		Tags:          project.Tags(),
		Featured:      project.Featured,
		Visible:       project.Visible,
		SortOrder:     project.SortOrder,
	}
}

func (p projectDraftPayload) toDraft() projects.Draft {
	return projects.Draft{
		Title:         p.Title,
		Summary:       p.Summary,
		Description:   p.Description,
		RepoURL:       p.RepoURL,
		LiveURL:       p.LiveURL,
		CoverImageURL: p.CoverImageURL,
		Tags:          p.Tags,
		Featured:      p.Featured,
		Visible:       p.Visible,
		SortOrder:     p.SortOrder,
	}
}

func (h *httpHandler) handlePublicProjects(c *gin.Context) {
	h.listProjects(c, true)
}

func (h *httpHandler) handleAdminProjects(c *gin.Context) {
	h.listProjects(c, false)
}

func (h *httpHandler) listProjects(c *gin.Context, visibleOnly bool) {
	list, err := h.projects.List(c.Request.Context(), visibleOnly)
	if err != nil {
		h.logger.Error("project listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	payload := make([]projectPayload, 0, len(list))
	for _, project := range list {
		payload = append(payload, toProjectPayload(project))
	}
	c.JSON(http.StatusOK, gin.H{"projects": payload})
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	var request projectDraftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	project, err := h.projects.Create(c.Request.Context(), request.toDraft())
	if err != nil {
		h.logger.Error("project create failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, toProjectPayload(project))
}

func (h *httpHandler) handleUpdateProject(c *gin.Context) {
	var request projectDraftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	project, err := h.projects.Update(c.Request.Context(), c.Param("id"), request.toDraft())
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("project update failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, toProjectPayload(project))
}

func (h *httpHandler) handleDeleteProject(c *gin.Context) {
	err := h.projects.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("project delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type blockPayload struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
	Reason    string `json:"reason"`
	BlockedBy string `json:"blocked_by"`
	CreatedAt int64  `json:"created_at_s"`
}

type blockRequestPayload struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
	Reason    string `json:"reason"`
}

func (h *httpHandler) handleListBlocks(c *gin.Context) {
	entries, err := h.blocklist.List(c.Request.Context())
	if err != nil {
		h.logger.Error("blocklist query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	payload := make([]blockPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, blockPayload{
			Dimension: string(entry.Dimension),
			Value:     entry.Value,
			Reason:    entry.Reason,
			BlockedBy: entry.BlockedBy,
			CreatedAt: entry.CreatedAt.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"blocks": payload})
}

func (h *httpHandler) handleCreateBlock(c *gin.Context) {
	var request blockRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	dimension, ok := parseDimension(request.Dimension)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_dimension"})
		return
	}
	err := h.blocklist.Block(c.Request.Context(), blocklist.BlockRequest{
		Dimension: dimension,
		Value:     request.Value,
		Reason:    request.Reason,
		BlockedBy: c.GetString(adminSubjectContextKey),
	})
	if err != nil {
		h.logger.Error("block create failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "block_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteBlock(c *gin.Context) {
	dimension, ok := parseDimension(c.Param("dimension"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_dimension"})
		return
	}
	if err := h.blocklist.Unblock(c.Request.Context(), dimension, c.Param("value")); err != nil {
		h.logger.Error("unblock failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "unblock_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func parseDimension(value string) (blocklist.Dimension, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(blocklist.DimensionVisitor):
		return blocklist.DimensionVisitor, true
	case string(blocklist.DimensionIP):
		return blocklist.DimensionIP, true
	case string(blocklist.DimensionCountry):
		return blocklist.DimensionCountry, true
	default:
		return "", false
	}
}

type maintenancePayload struct {
	Enabled bool `json:"enabled"`
}

func (h *httpHandler) handleGetMaintenance(c *gin.Context) {
	enabled, err := h.settings.MaintenanceEnabled(c.Request.Context())
	if err != nil {
		h.logger.Error("maintenance read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, maintenancePayload{Enabled: enabled})
}

func (h *httpHandler) handleSetMaintenance(c *gin.Context) {
	var request maintenancePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.settings.SetMaintenance(c.Request.Context(), request.Enabled, c.GetString(adminSubjectContextKey))
	if err != nil {
		h.logger.Error("maintenance write failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write_failed"})
		return
	}
	c.JSON(http.StatusOK, request)
}
