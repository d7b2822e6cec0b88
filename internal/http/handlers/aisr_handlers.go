package handlers

import (
	"net/http"
	"strconv"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/cityshield/YuntuWeb/internal/services/gateway"
	"github.com/cityshield/YuntuWeb/internal/services/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AISRHandler struct {
	gateway        *gateway.Gateway
	logger         *zap.Logger
	trustForwarded bool
}

func NewAISRHandler(gw *gateway.Gateway, logger *zap.Logger, trustForwarded bool) *AISRHandler {
	return &AISRHandler{
		gateway:        gw,
		logger:         logger,
		trustForwarded: trustForwarded,
	}
}

// === MAIN API ENDPOINTS ===

func (h *AISRHandler) Process(c *gin.Context) {
	identity := h.identity(c)

	env, err := h.gateway.Process(c.Request.Context(), identity, c.Request.Body)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindQuotaExceeded) {
			h.setRateLimitHeaders(c, 0)
		}
		c.JSON(apperrors.HTTPStatus(err), env)
		return
	}

	c.JSON(http.StatusOK, env)
}

func (h *AISRHandler) UsageStats(c *gin.Context) {
	stats := h.gateway.UsageStats(c.Request.Context(), h.identity(c))
	h.setRateLimitHeaders(c, stats.Remaining)
	c.JSON(http.StatusOK, stats)
}

// HealthCheck always answers 200; degraded collaborators show up in the body.
func (h *AISRHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway.Health(c.Request.Context()))
}

// === FORMAT HELPERS ===

func (h *AISRHandler) ConvertTIFF(c *gin.Context) {
	var req models.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request data")
		return
	}

	resp, err := h.gateway.ConvertPreview(req)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AISRHandler) ConvertEXR(c *gin.Context) {
	h.respondError(c, http.StatusNotImplemented, "EXR support is disabled by server configuration")
}

func (h *AISRHandler) identity(c *gin.Context) string {
	return ledger.ResolveIdentity(c.Request, h.trustForwarded)
}

func (h *AISRHandler) setRateLimitHeaders(c *gin.Context, remaining int) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(h.gateway.DailyLimit()))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

func (h *AISRHandler) respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, models.ErrorEnvelope(message))
}
