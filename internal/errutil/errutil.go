// Package errutil oops 错误的日志与断言工具
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError 以 error 级别记录 err，带上 oops 的 code 与上下文
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.ErrorContext(ctx, msg, append(attrs, "error", err)...)
		return
	}
	attrs = append(attrs, "error", oopsErr.Error())
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	logger.ErrorContext(ctx, msg, attrs...)
}

// Code 返回 oops code，普通错误返回空串
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := any(oopsErr.Code()).(string)
	return code
}
