package controllers

import (
	"context"
	"net/http"

	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

const executorsLimit = 20

type ExecutorLister interface {
	ListExecutors(ctx context.Context, limit int) ([]*domain.Executor, error)
}

type ExecutorsController struct {
	Executors ExecutorLister
}

func NewExecutorsController(executors ExecutorLister) *ExecutorsController {
	return &ExecutorsController{Executors: executors}
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	results, err := c.Executors.ListExecutors(r.Context(), executorsLimit)
	if err != nil {
		writeServiceError(w, r, err, "search executors")
		return
	}
	if results == nil {
		results = []*domain.Executor{}
	}
	util.WriteJSONResponse(w, http.StatusOK, results)
}
