package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Healthz reports that the process is up.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports whether the database and the shared cache are reachable.
func (h *Handler) Readyz(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{"database": "ok", "cache": "ok"}
	status := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("database not ready", zap.Error(err))
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if !h.cache.Enabled() {
		checks["cache"] = "disabled"
	} else if err := h.cache.Ping(ctx); err != nil {
		h.logger.Warn("cache not ready", zap.Error(err))
		checks["cache"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, checks)
}
