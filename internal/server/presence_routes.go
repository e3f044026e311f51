package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handlePresenceCount(c *gin.Context) {
	snapshot := h.reader.Snapshot()
	c.JSON(http.StatusOK, gin.H{"current": snapshot.Current})
}

func (h *httpHandler) handlePresenceSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.reader.Snapshot())
}

func (h *httpHandler) handlePresenceRebuild(c *gin.Context) {
	current, err := h.reaper.Rebuild(c.Request.Context())
	if err != nil {
		h.logger.Error("presence rebuild failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rebuild_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": current})
}

// handlePresenceStream pushes reader snapshots to the dashboard as
// server-sent events, starting with the latest known snapshot.
func (h *httpHandler) handlePresenceStream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	snapshots, unsubscribe := h.reader.Subscribe(c.Request.Context())
	defer unsubscribe()

	writeEvent := func(payload interface{}) bool {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := c.Writer.Write([]byte("event: presence\ndata: " + string(encoded) + "\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent(h.reader.Snapshot()) {
		return
	}
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if !writeEvent(snapshot) {
				return
			}
		}
	}
}

func (h *httpHandler) handleVisitorHistory(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := h.visitors.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("visitor history query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	payload := make([]visitorPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, visitorPayload{
			VisitorID:     record.VisitorID,
			FirstSeenAtMs: record.FirstSeenAtMs,
			LastSeenAtMs:  record.LastSeenAtMs,
			TotalSessions: record.TotalSessions,
			Browser:       record.Browser,
			OS:            record.OS,
			DeviceClass:   record.DeviceClass,
			Country:       record.Country,
			City:          record.City,
			IPAddress:     record.IPAddress,
		})
	}
	c.JSON(http.StatusOK, gin.H{"visitors": payload})
}

type visitorPayload struct {
	VisitorID     string `json:"visitor_id"`
	FirstSeenAtMs int64  `json:"first_seen_at_ms"`
	LastSeenAtMs  int64  `json:"last_seen_at_ms"`
	TotalSessions int64  `json:"total_sessions"`
	Browser       string `json:"browser"`
	OS            string `json:"os"`
	DeviceClass   string `json:"device_class"`
	Country       string `json:"country"`
	City          string `json:"city"`
	IPAddress     string `json:"ip_address"`
}
