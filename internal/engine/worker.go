package engine

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/stellara-labs/stellara/pkg/stellara/core"
)

// Worker processes workflows from the queue until ctx is cancelled.
func Worker(ctx context.Context, id int, executorID int64, workflowRepo WorkflowRepo, stepRepo WorkflowStepRepo, queue <-chan core.Workflow, clock core.Clock) {
	workerID := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "Worker stopping", "worker_id", id)
			return
		case wf := <-queue:
			slog.DebugContext(ctx, "Worker starting workflow", "worker_id", id, "workflow_id", wf.GetWorkflowData().ID)
			RunWorkflow(ctx, wf, workflowRepo, stepRepo, executorID, workerID, clock)
		}
	}
}
