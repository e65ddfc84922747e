package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

type WorkflowDefinitionRepository struct {
	store
}

func NewWorkflowDefinitionRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{store: newStore(db, dialect, clock)}
}

// Save inserts a new workflow definition or updates an existing one by name.
func (r *WorkflowDefinitionRepository) Save(ctx context.Context, def *domain.WorkflowDefinition) error {
	query := `
		INSERT INTO workflow_definitions (name, description, created, updated, flow_chart)
		VALUES (` + r.placeholders(1, 5) + `)`
	if r.dialect == database.MySQL {
		query += `
		ON DUPLICATE KEY UPDATE description = VALUES(description),
			updated = VALUES(updated),
			flow_chart = VALUES(flow_chart)`
	} else {
		query += `
		ON CONFLICT (name)
		DO UPDATE SET description = EXCLUDED.description,
			updated = EXCLUDED.updated,
			flow_chart = EXCLUDED.flow_chart`
	}
	_, err := r.db.ExecContext(ctx, query, def.Name, def.Description, r.ts(def.Created), r.ts(def.Updated), def.FlowChart)
	return err
}

// FindByName fetches a workflow definition by its unique name. Returns (nil, nil) if not found.
func (r *WorkflowDefinitionRepository) FindByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT name, description, created, updated, flow_chart
		FROM workflow_definitions WHERE name = ` + r.placeholder(1)
	var def domain.WorkflowDefinition
	err := r.db.QueryRowContext(ctx, query, name).Scan(&def.Name, &def.Description, &def.Created, &def.Updated, &def.FlowChart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// FindAll returns all workflow definitions.
func (r *WorkflowDefinitionRepository) FindAll(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	query := `
		SELECT name, description, created, updated, flow_chart
		FROM workflow_definitions
		ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]domain.WorkflowDefinition, 0)
	for rows.Next() {
		var d domain.WorkflowDefinition
		if err := rows.Scan(&d.Name, &d.Description, &d.Created, &d.Updated, &d.FlowChart); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}
