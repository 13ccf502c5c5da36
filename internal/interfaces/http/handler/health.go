package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/erp/batchalloc/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping() error
}

// PingerFunc adapts a function to Pinger
type PingerFunc func() error

// Ping calls f
func (f PingerFunc) Ping() error { return f() }

// HealthHandler serves the liveness and readiness probe
type HealthHandler struct {
	BaseHandler
	version   string
	startTime time.Time
	checks    map[string]Pinger
}

// NewHealthHandler creates a HealthHandler; checks are keyed by component name
func NewHealthHandler(version string, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		checks:    checks,
	}
}

// HealthResponse represents the health probe body
// @name HandlerHealthResponse
type HealthResponse struct {
	Status     string            `json:"status" example:"ok"`
	Version    string            `json:"version" example:"1.0.0"`
	GoVersion  string            `json:"go_version" example:"go1.25.5"`
	Uptime     string            `json:"uptime" example:"1h30m45s"`
	Components map[string]string `json:"components"`
}

// Health godoc
// @ID           getHealth
// @Summary      Health check
// @Description  Reports service status and the reachability of the database and cache.
// @Tags         system
// @Produce      json
// @Success      200 {object} APIResponse[HandlerHealthResponse]
// @Failure      503 {object} APIResponse[HandlerHealthResponse]
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:     "ok",
		Version:    h.version,
		GoVersion:  runtime.Version(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Components: make(map[string]string, len(h.checks)),
	}
	for name, check := range h.checks {
		if err := pingWithin(c.Request.Context(), check, 2*time.Second); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = err.Error()
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.NewSuccessResponse(resp))
}

func pingWithin(ctx context.Context, p Pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Ping() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
