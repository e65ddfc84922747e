package controllers

import (
	"context"
	"net/http"
	"regexp"

	"github.com/stellara-labs/stellara/internal/queue"
	"github.com/stellara-labs/stellara/internal/util"
)

var queueNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

type QueueStats interface {
	Stats(ctx context.Context, name string) (*queue.Stats, error)
}

type QueueController struct {
	Queue QueueStats
}

func NewQueueController(q QueueStats) *QueueController {
	return &QueueController{Queue: q}
}

func (c *QueueController) handleStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !queueNamePattern.MatchString(name) {
		util.WriteError(w, http.StatusBadRequest, "invalid queue name")
		return
	}
	stats, err := c.Queue.Stats(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, err, "load queue stats")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, stats)
}
