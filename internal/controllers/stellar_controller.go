package controllers

import (
	"context"
	"net/http"

	"github.com/stellara-labs/stellara/internal/stellar"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

type SubscriptionService interface {
	Subscribe(ctx context.Context, userID int64, account, webhookURL string, eventTypes []string) (*stellar.Subscription, error)
	List(ctx context.Context, userID int64) ([]stellar.Subscription, error)
	SetActive(ctx context.Context, userID, id int64, active bool) (*stellar.Subscription, error)
	Delete(ctx context.Context, userID, id int64) error
	Events(ctx context.Context, userID int64, admin bool, account string, limit, offset int64) ([]domain.StellarEvent, error)
}

type MonitorStatus interface {
	Status(ctx context.Context) (stellar.Status, error)
}

// StellarController serves webhook subscriptions, stored events and the monitor status.
type StellarController struct {
	Subscriptions SubscriptionService
	Monitor       MonitorStatus
}

func NewStellarController(subscriptions SubscriptionService, monitor MonitorStatus) *StellarController {
	return &StellarController{Subscriptions: subscriptions, Monitor: monitor}
}

func (c *StellarController) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := c.Subscriptions.List(r.Context(), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err, "list subscriptions")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, subs)
}

func (c *StellarController) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateSubscriptionRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "create subscription")
		return
	}
	sub, err := c.Subscriptions.Subscribe(r.Context(), principal(r).UserID, req.Account, req.WebhookURL, req.EventTypes)
	if err != nil {
		writeServiceError(w, r, err, "create subscription")
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, sub)
}

func (c *StellarController) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, err := util.DecodeJSONBody[models.UpdateSubscriptionRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "update subscription")
		return
	}
	sub, err := c.Subscriptions.SetActive(r.Context(), principal(r).UserID, id, *req.Active)
	if err != nil {
		writeServiceError(w, r, err, "update subscription")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, sub)
}

func (c *StellarController) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := c.Subscriptions.Delete(r.Context(), principal(r).UserID, id); err != nil {
		writeServiceError(w, r, err, "delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListEvents pages through the stored events of ?account=
func (c *StellarController) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := principal(r)
	events, err := c.Subscriptions.Events(r.Context(), p.UserID, p.IsAdmin(), r.URL.Query().Get("account"), limit, offset)
	if err != nil {
		writeServiceError(w, r, err, "list events")
		return
	}
	if events == nil {
		events = []domain.StellarEvent{}
	}
	util.WriteJSONResponse(w, http.StatusOK, events)
}

func (c *StellarController) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := c.Monitor.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "load monitor status")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, status)
}
