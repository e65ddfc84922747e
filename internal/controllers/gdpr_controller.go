package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/internal/gdpr"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

type GdprService interface {
	Grant(ctx context.Context, userID int64, purpose domain.ConsentPurpose, version string, client auth.ClientInfo) (*domain.Consent, error)
	Withdraw(ctx context.Context, userID int64, purpose domain.ConsentPurpose, client auth.ClientInfo) (*domain.Consent, error)
	Current(ctx context.Context, userID int64) ([]domain.Consent, error)
	History(ctx context.Context, userID int64) ([]domain.Consent, error)
	Export(ctx context.Context, userID int64) (*gdpr.Export, error)
	RequestErasure(ctx context.Context, userID int64, requestedBy string) (*domain.Workflow, error)
}

type GdprController struct {
	Gdpr GdprService
}

func NewGdprController(service GdprService) *GdprController {
	return &GdprController{Gdpr: service}
}

func (c *GdprController) handleCurrentConsents(w http.ResponseWriter, r *http.Request) {
	consents, err := c.Gdpr.Current(r.Context(), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err, "load consents")
		return
	}
	if consents == nil {
		consents = []domain.Consent{}
	}
	util.WriteJSONResponse(w, http.StatusOK, consents)
}

func (c *GdprController) handleConsentHistory(w http.ResponseWriter, r *http.Request) {
	consents, err := c.Gdpr.History(r.Context(), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err, "load consent history")
		return
	}
	if consents == nil {
		consents = []domain.Consent{}
	}
	util.WriteJSONResponse(w, http.StatusOK, consents)
}

func (c *GdprController) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	var req models.GrantConsentRequest
	if r.ContentLength != 0 {
		var err error
		if req, err = util.DecodeJSONBody[models.GrantConsentRequest](r); err != nil {
			writeServiceError(w, r, err, "grant consent")
			return
		}
	}
	consent, err := c.Gdpr.Grant(r.Context(), principal(r).UserID, domain.ConsentPurpose(r.PathValue("purpose")), req.Version, clientInfo(r))
	if err != nil {
		writeServiceError(w, r, err, "grant consent")
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, consent)
}

func (c *GdprController) handleWithdrawConsent(w http.ResponseWriter, r *http.Request) {
	consent, err := c.Gdpr.Withdraw(r.Context(), principal(r).UserID, domain.ConsentPurpose(r.PathValue("purpose")), clientInfo(r))
	if err != nil {
		writeServiceError(w, r, err, "withdraw consent")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, consent)
}

// handleExport sends the personal data document as a download.
func (c *GdprController) handleExport(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	export, err := c.Gdpr.Export(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err, "export personal data")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="stellara-export-`+strconv.FormatInt(p.UserID, 10)+`.json"`)
	util.WriteJSONResponse(w, http.StatusOK, export)
}

func (c *GdprController) handleRequestErasure(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	wf, err := c.Gdpr.RequestErasure(r.Context(), p.UserID, p.Username)
	if err != nil {
		writeServiceError(w, r, err, "request erasure")
		return
	}
	util.WriteJSONResponse(w, http.StatusAccepted, erasureResponse(wf))
}
