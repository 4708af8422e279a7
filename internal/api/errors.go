package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aiwuxian/project-syndicate/internal/errutil"
	"github.com/aiwuxian/project-syndicate/internal/services"
)

// statusFor 业务错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrCrimeNotFound), errors.Is(err, services.ErrCharacterNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrInsufficientResource),
		errors.Is(err, services.ErrRequirementNotMet):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errutil.Code(err) == "INVALID_NAME":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		errutil.LogError(c.Request.Context(), logger, "request failed", err, "path", c.FullPath())
	}

	body := gin.H{"error": services.PublicMessage(err, http.StatusText(status))}
	if code := errutil.Code(err); code != "" && status < http.StatusInternalServerError {
		body["code"] = code
	}
	c.AbortWithStatusJSON(status, body)
}
