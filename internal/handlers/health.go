package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	checkOK       = "ok"
	checkError    = "error"
	checkDisabled = "disabled"
)

type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Cache       string `json:"cache"`
	Environment string `json:"environment"`
}

func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:      checkOK,
		Database:    checkDisabled,
		Cache:       checkDisabled,
		Environment: h.cfg.Environment,
	}

	if h.db != nil {
		resp.Database = checkOK
		if err := h.db.Ping(ctx); err != nil {
			resp.Database = checkError
			h.log.Error().Err(err).Msg("database ping failed")
		}
	}

	if h.cache != nil {
		resp.Cache = checkOK
		if err := h.cache.Ping(ctx).Err(); err != nil {
			resp.Cache = checkError
			h.log.Error().Err(err).Msg("redis ping failed")
		}
	}

	status := http.StatusOK
	if resp.Database == checkError || resp.Cache == checkError {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
