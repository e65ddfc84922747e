package workflows

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

const GdprErasureType = "GdprErasure"

// Erasure states
const (
	ErasureStart     = "StartErasure"
	ErasureRevoke    = "RevokeAccess"
	ErasureDelete    = "DeletePersonalData"
	ErasureAnonymize = "AnonymizeRecords"
	ErasureDone      = "Erased"
)

const VarUserID = "userId"

// Eraser performs the erasure steps for one user. Every step must be idempotent,
// a retried step runs again from the start.
type Eraser interface {
	RevokeAccess(ctx context.Context, userID int64) error
	DeletePersonalData(ctx context.Context, userID int64) error
	AnonymizeRecords(ctx context.Context, userID int64) error
}

// GdprErasureWorkflow removes or anonymizes everything stored about a user.
type GdprErasureWorkflow struct {
	core.BaseWorkflow
	Eraser Eraser
}

func (w *GdprErasureWorkflow) InitialState() string {
	return ErasureStart
}

func (w *GdprErasureWorkflow) Description() string {
	return "Erases a user's personal data: revokes access, deletes owned records and anonymizes the rest"
}

func (w *GdprErasureWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		ErasureStart:     {ErasureRevoke},
		ErasureRevoke:    {ErasureDelete},
		ErasureDelete:    {ErasureAnonymize},
		ErasureAnonymize: {ErasureDone},
	}
}

func (w *GdprErasureWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: ErasureStart, StateType: models.StateStart},
		{Name: ErasureRevoke, StateType: models.StateNormal},
		{Name: ErasureDelete, StateType: models.StateNormal},
		{Name: ErasureAnonymize, StateType: models.StateNormal},
		{Name: ErasureDone, StateType: models.StateEnd},
	}
}

func (w *GdprErasureWorkflow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    10,
		RetryIntervalMin: 10 * time.Second,
		RetryIntervalMax: 30 * time.Minute,
	}
}

func (w *GdprErasureWorkflow) userID() (int64, error) {
	id, err := strconv.ParseInt(w.Var(VarUserID), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Permanent(fmt.Errorf("invalid %s state var %q", VarUserID, w.Var(VarUserID)))
	}
	return id, nil
}

func (w *GdprErasureWorkflow) StartErasure(ctx context.Context) (*models.NextState, error) {
	id, err := w.userID()
	if err != nil {
		return nil, err
	}
	return &models.NextState{Name: ErasureRevoke, ActionLog: fmt.Sprintf("erasure requested for user %d", id)}, nil
}

func (w *GdprErasureWorkflow) RevokeAccess(ctx context.Context) (*models.NextState, error) {
	id, err := w.userID()
	if err != nil {
		return nil, err
	}
	if err := w.Eraser.RevokeAccess(ctx, id); err != nil {
		return nil, fmt.Errorf("revoke access: %w", err)
	}
	return &models.NextState{Name: ErasureDelete}, nil
}

func (w *GdprErasureWorkflow) DeletePersonalData(ctx context.Context) (*models.NextState, error) {
	id, err := w.userID()
	if err != nil {
		return nil, err
	}
	if err := w.Eraser.DeletePersonalData(ctx, id); err != nil {
		return nil, fmt.Errorf("delete personal data: %w", err)
	}
	return &models.NextState{Name: ErasureAnonymize}, nil
}

func (w *GdprErasureWorkflow) AnonymizeRecords(ctx context.Context) (*models.NextState, error) {
	id, err := w.userID()
	if err != nil {
		return nil, err
	}
	if err := w.Eraser.AnonymizeRecords(ctx, id); err != nil {
		return nil, fmt.Errorf("anonymize records: %w", err)
	}
	return &models.NextState{Name: ErasureDone, ActionLog: "user erased"}, nil
}
