package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter 注册所有路由；metrics 为空时不暴露 /metrics
func NewRouter(h *Handler, auth *Authenticator, metrics http.Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	r.GET("/api/health", h.Health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	r.GET("/ws", auth.RequireAuth(), h.WebSocket)

	apiGroup := r.Group("/api", auth.RequireAuth())
	{
		// 角色相关
		apiGroup.POST("/user/character", h.CreateCharacter)
		apiGroup.GET("/user/profile", h.LoadCharacter, h.Profile)

		// 罪行相关
		apiGroup.GET("/crimes/list", h.ListCrimes)
		apiGroup.POST("/crimes/commit", h.LoadCharacter, h.CommitCrimeBody)
		apiGroup.POST("/crimes/commit/:crimeId", h.LoadCharacter, h.CommitCrime)
		apiGroup.GET("/crimes/history", h.LoadCharacter, h.History)
	}

	return r
}
