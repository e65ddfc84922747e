package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stellara-labs/stellara/internal/logging"
	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

type Store interface {
	Save(ctx context.Context, a *domain.AuditLog) (int64, error)
	Search(ctx context.Context, s repository.AuditSearch) ([]domain.AuditLog, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Entry is the JSON view of an audit log.
type Entry struct {
	ID            int64           `json:"id"`
	UserID        *int64          `json:"userId"`
	Action        string          `json:"action"`
	Resource      string          `json:"resource"`
	ResourceID    string          `json:"resourceId,omitempty"`
	Method        string          `json:"method"`
	Path          string          `json:"path"`
	Status        int             `json:"status"`
	IP            string          `json:"ip,omitempty"`
	UserAgent     string          `json:"userAgent,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Created       time.Time       `json:"created"`
}

func EntryView(a *domain.AuditLog) Entry {
	e := Entry{
		ID:            a.ID,
		Action:        a.Action,
		Resource:      a.Resource,
		ResourceID:    a.ResourceID,
		Method:        a.Method,
		Path:          a.Path,
		Status:        a.Status,
		IP:            a.IP,
		UserAgent:     a.UserAgent,
		CorrelationID: a.CorrelationID,
		Created:       a.Created,
	}
	if a.UserID.Valid {
		e.UserID = &a.UserID.Int64
	}
	if a.Metadata.Valid && json.Valid([]byte(a.Metadata.String)) {
		e.Metadata = json.RawMessage(a.Metadata.String)
	}
	return e
}

func EntryViews(logs []domain.AuditLog) []Entry {
	out := make([]Entry, 0, len(logs))
	for i := range logs {
		out = append(out, EntryView(&logs[i]))
	}
	return out
}

type Service struct {
	store     Store
	retention time.Duration
	clock     core.Clock
}

func NewService(store Store, retentionDays int, clock core.Clock) *Service {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &Service{store: store, retention: time.Duration(retentionDays) * 24 * time.Hour, clock: clock}
}

// Record stores an entry, filling correlation id and user from the context when unset.
func (s *Service) Record(ctx context.Context, entry *domain.AuditLog) error {
	if entry.CorrelationID == "" {
		entry.CorrelationID = logging.CorrelationID(ctx)
	}
	if !entry.UserID.Valid {
		if uid, ok := logging.UserID(ctx); ok {
			entry.UserID = sql.NullInt64{Int64: uid, Valid: true}
		}
	}
	entry.Path = util.Truncate(entry.Path, 512)
	entry.UserAgent = util.Truncate(entry.UserAgent, 255)
	if _, err := s.store.Save(ctx, entry); err != nil {
		return fmt.Errorf("save audit log: %w", err)
	}
	return nil
}

func (s *Service) Search(ctx context.Context, q repository.AuditSearch) ([]domain.AuditLog, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}
	return s.store.Search(ctx, q)
}

// Purge deletes entries older than the retention window.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().Add(-s.retention)
	n, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	slog.InfoContext(ctx, "Purged audit logs", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// Middleware records every mutating request once the response is written.
// It must wrap the ServeMux directly so the matched pattern is visible afterwards.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		rec := logging.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = r.Method + " " + r.URL.Path
		}
		entry := &domain.AuditLog{
			Action:     action(route),
			Resource:   resource(r.URL.Path),
			ResourceID: resourceID(r),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.Status,
			IP:         util.ClientIP(r),
			UserAgent:  r.UserAgent(),
		}
		if err := s.Record(context.WithoutCancel(r.Context()), entry); err != nil {
			slog.ErrorContext(r.Context(), "Failed to record audit log", "path", r.URL.Path, "error", err)
		}
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// action turns "POST /api/auth/login" into "post /api/auth/login".
func action(route string) string {
	method, path, ok := strings.Cut(route, " ")
	if !ok {
		return util.Truncate(route, 128)
	}
	return util.Truncate(strings.ToLower(method)+" "+path, 128)
}

// resource is the first path segment after /api.
func resource(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 1 && parts[0] == "api" {
		return parts[1]
	}
	return parts[0]
}

func resourceID(r *http.Request) string {
	for _, name := range []string{"id", "externalId", "publicKey", "key"} {
		if v := r.PathValue(name); v != "" {
			return v
		}
	}
	return ""
}
