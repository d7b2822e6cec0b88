package middleware

import (
	"net/http"

	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler recovers panics into the standard error envelope.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(ctx *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("request_id", ctx.GetString(RequestIDKey)),
			zap.String("path", ctx.Request.URL.Path),
			zap.String("method", ctx.Request.Method),
			zap.Stack("stack"),
		)

		ctx.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorEnvelope("internal server error"))
	})
}
