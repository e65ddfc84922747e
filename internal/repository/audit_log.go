package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

type AuditLogRepository struct {
	store
}

// AuditSearch filters audit entries; zero values are ignored.
type AuditSearch struct {
	UserID   int64
	Action   string
	Resource string
	From     time.Time
	To       time.Time
	Limit    int64
	Offset   int64
}

func NewAuditLogRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *AuditLogRepository {
	return &AuditLogRepository{store: newStore(db, dialect, clock)}
}

const auditLogColumns = `id, user_id, action, resource, resource_id, method, path, status, ip, user_agent, correlation_id, metadata, created`

func (r *AuditLogRepository) Save(ctx context.Context, a *domain.AuditLog) (int64, error) {
	if a.Created.IsZero() {
		a.Created = r.now()
	}
	query := `INSERT INTO audit_logs (` + auditLogColumns[4:] + `) VALUES (` + r.placeholders(1, 12) + `)`
	id, err := r.insert(ctx, query, a.UserID, a.Action, a.Resource, a.ResourceID, a.Method, a.Path, a.Status,
		a.IP, a.UserAgent, a.CorrelationID, a.Metadata, r.ts(a.Created))
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

func (r *AuditLogRepository) Search(ctx context.Context, s AuditSearch) ([]domain.AuditLog, error) {
	var clauses []string
	var args []any
	if s.UserID != 0 {
		args = append(args, s.UserID)
		clauses = append(clauses, "user_id = "+r.placeholder(len(args)))
	}
	if s.Action != "" {
		args = append(args, s.Action)
		clauses = append(clauses, "action = "+r.placeholder(len(args)))
	}
	if s.Resource != "" {
		args = append(args, s.Resource)
		clauses = append(clauses, "resource = "+r.placeholder(len(args)))
	}
	if !s.From.IsZero() {
		args = append(args, r.ts(s.From))
		clauses = append(clauses, "NOT ("+r.before("created", len(args))+")")
	}
	if !s.To.IsZero() {
		args = append(args, r.ts(s.To))
		clauses = append(clauses, r.before("created", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := s.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + auditLogColumns + ` FROM audit_logs` + where + ` ORDER BY id DESC` + r.limitOffset(limit, s.Offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := make([]domain.AuditLog, 0)
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.Resource, &a.ResourceID, &a.Method, &a.Path, &a.Status,
			&a.IP, &a.UserAgent, &a.CorrelationID, &a.Metadata, &a.Created); err != nil {
			return nil, err
		}
		logs = append(logs, a)
	}
	return logs, rows.Err()
}

// DeleteBefore purges entries created before cutoff.
func (r *AuditLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM audit_logs WHERE `+r.before("created", 1), r.ts(cutoff))
}

// AnonymizeUser detaches entries from the user and clears network identifiers.
func (r *AuditLogRepository) AnonymizeUser(ctx context.Context, userID int64) (int64, error) {
	query := `UPDATE audit_logs SET user_id = NULL, ip = '', user_agent = '', metadata = NULL WHERE user_id = ` + r.placeholder(1)
	return r.exec(ctx, query, userID)
}
