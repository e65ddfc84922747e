package controllers

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/stellara-labs/stellara/internal/util"
)

const healthTimeout = 2 * time.Second

// HealthCheck pings one dependency. A nil check reports the dependency as disabled.
type HealthCheck func(ctx context.Context) error

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type HealthController struct {
	Name   string
	Checks map[string]HealthCheck
}

func NewHealthController(name string, checks map[string]HealthCheck) *HealthController {
	return &HealthController{Name: name, Checks: checks}
}

func (c *HealthController) handleHello(w http.ResponseWriter, r *http.Request) {
	util.WriteJSONResponse(w, http.StatusOK, map[string]string{"name": c.Name, "docs": "/api/docs"})
}

func (c *HealthController) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(c.Checks))}
	status := http.StatusOK
	for _, name := range slices.Sorted(maps.Keys(c.Checks)) {
		check := c.Checks[name]
		if check == nil {
			resp.Checks[name] = "disabled"
			continue
		}
		if err := check(ctx); err != nil {
			slog.WarnContext(ctx, "Health check failed", "check", name, "error", err)
			resp.Checks[name] = "down"
			resp.Status = "error"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "up"
	}
	util.WriteJSONResponse(w, status, resp)
}
