package http

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/internal/infrastructure/monitoring"
	"chathub/pkg/errors"
	"chathub/pkg/utils"
	"chathub/pkg/validation"
)

// ChatHandler exposes one chat side to operators over HTTP. It never
// drains the side's event queues; that is the event feed's job.
type ChatHandler struct {
	side      ports.ChatSide
	health    *monitoring.HealthChecker
	startTime time.Time
}

var _ ports.AdminHandler = (*ChatHandler)(nil)

func NewChatHandler(side ports.ChatSide, health *monitoring.HealthChecker) *ChatHandler {
	if health == nil {
		health = monitoring.NewHealthChecker()
	}
	return &ChatHandler{
		side:      side,
		health:    health,
		startTime: time.Now(),
	}
}

func (h *ChatHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1")
	{
		api.GET("/peers", h.ListPeers)
		api.GET("/peers/:nickname/stats", h.GetPeerStats)
		api.GET("/peers/:nickname/conversation", h.GetConversation)
		api.POST("/peers/:nickname/messages", h.SendMessage)
		api.POST("/disconnect", h.Disconnect)
	}
}

func (h *ChatHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status.Status,
		"checks":    status.Checks,
		"transport": h.side.Transport(),
		"timestamp": status.Timestamp,
		"uptime":    utils.FormatDuration(utils.Since(h.startTime)),
	})
}

// Ready reports 503 until every health check passes.
func (h *ChatHandler) Ready(c *gin.Context) {
	if !h.health.IsReady(c.Request.Context()) {
		_ = c.Error(errors.NewServiceUnavailableError(string(h.side.Transport()) + " side not ready"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

func (h *ChatHandler) ListPeers(c *gin.Context) {
	peers := h.side.Peers()
	if peers == nil {
		peers = []domain.Nickname{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transport": h.side.Transport(),
		"peers":     peers,
		"count":     len(peers),
	})
}

func (h *ChatHandler) GetPeerStats(c *gin.Context) {
	nickname := domain.Nickname(c.Param("nickname"))

	stats := h.side.Stats(nickname)
	if stats == nil {
		_ = c.Error(errors.NewNotFoundError("peer " + string(nickname)))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
	})
}

// GetConversation also answers for departed peers; their log is kept.
func (h *ChatHandler) GetConversation(c *gin.Context) {
	nickname := domain.Nickname(c.Param("nickname"))

	entries := h.side.Conversation(nickname)
	if entries == nil {
		entries = []domain.ConversationEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"nickname": nickname,
		"entries":  entries,
	})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	nickname := domain.Nickname(c.Param("nickname"))

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateMessageText(req.Text); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()).WithContext("field", "text"))
		return
	}
	if !slices.Contains(h.side.Peers(), nickname) {
		_ = c.Error(errors.NewNotFoundError("peer " + string(nickname)))
		return
	}

	if !h.side.Send(c.Request.Context(), nickname, req.Text) {
		_ = c.Error(errors.NewAppError(errors.ErrCodeServiceUnavailable,
			"message could not be sent", http.StatusBadGateway).WithContext("nickname", nickname))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":   "sent",
		"nickname": nickname,
	})
}

// Disconnect stops a server or disconnects a client.
func (h *ChatHandler) Disconnect(c *gin.Context) {
	h.side.Disconnect()
	c.JSON(http.StatusOK, gin.H{
		"status": "disconnected",
	})
}
