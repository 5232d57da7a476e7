package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/storage"
	"github.com/dkeye/Meet/internal/transcribe"
)

const maxPageSize = 200

type handlers struct {
	deps Deps
}

func (h *handlers) database() string {
	if h.deps.Store != nil && h.deps.Store.Connected() {
		return "connected"
	}
	return "disconnected"
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  h.database(),
	})
}

func (h *handlers) serviceHealth(c *gin.Context) {
	transcription := "not-configured"
	if h.deps.Streaming {
		transcription = "assemblyai-configured"
	}
	sessions := 0
	if h.deps.Orch != nil && h.deps.Orch.Transcription != nil {
		sessions = h.deps.Orch.Transcription.Sessions()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":                 "ok",
		"service":                "meet",
		"timestamp":              time.Now().UTC().Format(time.RFC3339),
		"uptime":                 time.Since(h.deps.Started).Seconds(),
		"database":               h.database(),
		"transcription_service":  transcription,
		"transcription_sessions": sessions,
	})
}

func (h *handlers) xfyunStatus(c *gin.Context) {
	var appID string
	configured := false
	if h.deps.Xfyun != nil {
		cfg := h.deps.Xfyun.Config()
		appID, configured = cfg.AppID, cfg.Configured()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"appId":      appID,
		"configured": configured,
	})
}

// transcriptionHealth checks that the speech provider accepts our key.
func (h *handlers) transcriptionHealth(c *gin.Context) {
	body := gin.H{
		"service":            "assemblyai-transcription",
		"api_service":        "AssemblyAI",
		"database":           h.database(),
		"api_key_configured": h.deps.Assembly != nil && h.deps.Assembly.Configured(),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	}
	if h.deps.Assembly == nil || !h.deps.Assembly.Configured() {
		body["status"] = "error"
		body["error"] = transcribe.ErrNotConfigured.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	status, err := h.deps.Assembly.Check(c.Request.Context())
	if status != 0 {
		body["api_response_status"] = status
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("transcription health")
		body["status"] = "error"
		body["error"] = err.Error()
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	body["status"] = "ok"
	c.JSON(http.StatusOK, body)
}

func roomParam(c *gin.Context) (domain.RoomID, bool) {
	id := domain.RoomID(c.Param("roomId"))
	if err := id.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id, true
}

func (h *handlers) messages(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	limit := storage.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxPageSize)
	}
	msgs, err := h.deps.Orch.Store.GetMessages(c.Request.Context(), roomID, limit)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room_id", string(roomID)).Msg("get messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *handlers) participants(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	ps, err := h.deps.Orch.Store.GetParticipants(c.Request.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room_id", string(roomID)).Msg("get participants")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}
	if ps == nil {
		ps = []*domain.Participant{}
	}
	c.JSON(http.StatusOK, gin.H{"participants": ps})
}
