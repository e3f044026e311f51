package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/foliolab/pulse/internal/auth"
	"github.com/foliolab/pulse/internal/blocklist"
	"github.com/foliolab/pulse/internal/presence"
	"github.com/foliolab/pulse/internal/projects"
	"github.com/foliolab/pulse/internal/settings"
	"github.com/foliolab/pulse/internal/visitors"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const adminSubjectContextKey = "pulse_admin_subject"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingTracker      = errors.New("presence tracker dependency required")
	errMissingReader       = errors.New("presence reader dependency required")
	errMissingReaper       = errors.New("presence reaper dependency required")
	errMissingBlocklist    = errors.New("blocklist service dependency required")
	errMissingProjects     = errors.New("projects service dependency required")
	errMissingSettings     = errors.New("settings service dependency required")
	errMissingVisitors     = errors.New("visitor archive dependency required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// AdminTokenManager issues and validates dashboard tokens.
type AdminTokenManager interface {
	Login(accessKey string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the underlying services.
type Dependencies struct {
	TokenManager AdminTokenManager
	Tracker      *presence.Tracker
	Reader       *presence.Reader
	Reaper       *presence.Reaper
	Blocklist    *blocklist.Service
	Projects     *projects.Service
	Settings     *settings.Service
	Visitors     *visitors.Archive
	Logger       *zap.Logger
}

// NewHTTPHandler builds the public and admin routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Tracker == nil {
		return nil, errMissingTracker
	}
	if deps.Reader == nil {
		return nil, errMissingReader
	}
	if deps.Reaper == nil {
		return nil, errMissingReaper
	}
	if deps.Blocklist == nil {
		return nil, errMissingBlocklist
	}
	if deps.Projects == nil {
		return nil, errMissingProjects
	}
	if deps.Settings == nil {
		return nil, errMissingSettings
	}
	if deps.Visitors == nil {
		return nil, errMissingVisitors
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		tracker:   deps.Tracker,
		reader:    deps.Reader,
		reaper:    deps.Reaper,
		blocklist: deps.Blocklist,
		projects:  deps.Projects,
		settings:  deps.Settings,
		visitors:  deps.Visitors,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/login", handler.handleLogin)
	router.GET("/api/site", handler.handleSiteStatus)

	public := router.Group("/api")
	public.Use(handler.maintenanceGate)
	public.GET("/projects", handler.handlePublicProjects)
	public.GET("/presence", handler.handlePresenceCount)
	public.GET("/presence/ws", handler.handleTrackingSocket)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeRequest)
	admin.GET("/presence", handler.handlePresenceSnapshot)
	admin.GET("/presence/stream", handler.handlePresenceStream)
	admin.POST("/presence/rebuild", handler.handlePresenceRebuild)
	admin.GET("/visitors", handler.handleVisitorHistory)
	admin.GET("/blocks", handler.handleListBlocks)
	admin.POST("/blocks", handler.handleCreateBlock)
	admin.DELETE("/blocks/:dimension/:value", handler.handleDeleteBlock)
	admin.GET("/projects", handler.handleAdminProjects)
	admin.POST("/projects", handler.handleCreateProject)
	admin.PUT("/projects/:id", handler.handleUpdateProject)
	admin.DELETE("/projects/:id", handler.handleDeleteProject)
	admin.GET("/maintenance", handler.handleGetMaintenance)
	admin.PUT("/maintenance", handler.handleSetMaintenance)

	return router, nil
}

type httpHandler struct {
	tokens    AdminTokenManager
	tracker   *presence.Tracker
	reader    *presence.Reader
	reaper    *presence.Reaper
	blocklist *blocklist.Service
	projects  *projects.Service
	settings  *settings.Service
	visitors  *visitors.Archive
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type loginRequestPayload struct {
	AccessKey string `json:"access_key"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.AccessKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.Login(request.AccessKey)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidAccessKey) {
			h.logger.Warn("admin login rejected", zap.String("ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleSiteStatus(c *gin.Context) {
	enabled, err := h.settings.MaintenanceEnabled(c.Request.Context())
	if err != nil {
		h.logger.Error("maintenance status read failed", zap.Error(err))
		enabled = false
	}
	c.JSON(http.StatusOK, gin.H{"maintenance": enabled})
}

// maintenanceGate returns 503 on the public surface while maintenance mode
// is on. A status read failure fails open; the gate must never take the
// site down by itself.
func (h *httpHandler) maintenanceGate(c *gin.Context) {
	enabled, err := h.settings.MaintenanceEnabled(c.Request.Context())
	if err != nil {
		h.logger.Warn("maintenance gate read failed", zap.Error(err))
		c.Next()
		return
	}
	if enabled {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "maintenance"})
		return
	}
	c.Next()
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := ""
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if queryToken := c.Query("access_token"); queryToken != "" {
		// EventSource cannot set headers; the SSE stream authenticates via
		// query parameter.
		token = queryToken
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(adminSubjectContextKey, subject)
	c.Next()
}
