package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aiwuxian/project-syndicate/internal/logging"
	"github.com/aiwuxian/project-syndicate/internal/models"
	"github.com/aiwuxian/project-syndicate/internal/services"
)

// Pinger 存储健康检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// WebSocketServer 通知推送端点
type WebSocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, ownerID string) error
}

type Handler struct {
	characters *services.CharacterService
	crimes     *services.CrimeService
	ws         WebSocketServer
	pinger     Pinger
	logger     *slog.Logger
}

func NewHandler(characters *services.CharacterService, crimes *services.CrimeService,
	ws WebSocketServer, pinger Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		characters: characters,
		crimes:     crimes,
		ws:         ws,
		pinger:     pinger,
		logger:     logger,
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	if h.pinger != nil {
		if err := h.pinger.Ping(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// LoadCharacter 根据登录用户加载角色，之后的处理器可直接取用
func (h *Handler) LoadCharacter(c *gin.Context) {
	char, err := h.characters.GetByOwner(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Set(ctxCharacter, char)
	c.Request = c.Request.WithContext(logging.WithFields(c.Request.Context(), slog.String("character_id", char.ID)))
	c.Next()
}

func currentCharacter(c *gin.Context) *models.Character {
	char, _ := c.MustGet(ctxCharacter).(*models.Character)
	return char
}

// ListCrimes 罪行目录
func (h *Handler) ListCrimes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"crimes": h.crimes.Catalog().List()})
}

// CommitCrime 路径参数指定罪行
func (h *Handler) CommitCrime(c *gin.Context) {
	h.commit(c, c.Param("crimeId"))
}

// CommitCrimeBody 请求体 {crimeId} 指定罪行
func (h *Handler) CommitCrimeBody(c *gin.Context) {
	var req struct {
		CrimeID string `json:"crimeId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "crimeId is required", "code": "INVALID_REQUEST"})
		return
	}
	h.commit(c, req.CrimeID)
}

func (h *Handler) commit(c *gin.Context, crimeID string) {
	char := currentCharacter(c)
	outcome, err := h.crimes.Attempt(c.Request.Context(), char.ID, crimeID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// History 最近的犯罪记录
func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.crimes.History(c.Request.Context(), currentCharacter(c).ID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": logs})
}

// Profile 角色完整档案
func (h *Handler) Profile(c *gin.Context) {
	profile, err := h.characters.Profile(c.Request.Context(), currentCharacter(c).ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": profile})
}

// CreateCharacter 为当前用户创建角色
func (h *Handler) CreateCharacter(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required", "code": "INVALID_REQUEST"})
		return
	}

	char, err := h.characters.Create(c.Request.Context(), c.GetString(ctxUserID), req.Name)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	profile := &models.Profile{Character: char, XPForNext: services.ThresholdFor(char.Level)}
	c.JSON(http.StatusCreated, gin.H{"character": profile})
}

// WebSocket 订阅本人的结果通知
func (h *Handler) WebSocket(c *gin.Context) {
	if h.ws == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	if err := h.ws.ServeWS(c.Writer, c.Request, c.GetString(ctxUserID)); err != nil {
		h.logger.Warn("websocket closed with error", "error", err)
	}
}
