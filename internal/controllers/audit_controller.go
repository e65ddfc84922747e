package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/stellara-labs/stellara/internal/audit"
	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

type AuditSearcher interface {
	Search(ctx context.Context, q repository.AuditSearch) ([]domain.AuditLog, error)
}

type AuditController struct {
	Audit AuditSearcher
}

func NewAuditController(searcher AuditSearcher) *AuditController {
	return &AuditController{Audit: searcher}
}

// handleSearch filters by userId, action, resource and an RFC 3339 from/to range.
func (c *AuditController) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := repository.AuditSearch{Action: q.Get("action"), Resource: q.Get("resource")}

	var err error
	if search.UserID, err = queryInt(r, "userId", 0); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if search.Limit, err = queryInt(r, "limit", 50); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if search.Offset, err = queryInt(r, "offset", 0); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	for name, dst := range map[string]*time.Time{"from": &search.From, "to": &search.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			util.WriteError(w, http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}

	logs, err := c.Audit.Search(r.Context(), search)
	if err != nil {
		writeServiceError(w, r, err, "search audit log")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, audit.EntryViews(logs))
}
