package api

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS 只允许 clientURL 跨域访问，preflight 由中间件直接应答
func CORS(clientURL string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{clientURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
