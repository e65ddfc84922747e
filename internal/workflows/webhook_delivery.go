package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/stellara-labs/stellara/internal/telemetry"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

const WebhookDeliveryType = "WebhookDelivery"

// Webhook delivery states
const (
	WebhookLoad             = "LoadDelivery"
	WebhookSend             = "SendWebhook"
	WebhookDelivered        = "Delivered"
	WebhookSkipped          = "Skipped"
	WebhookSubscriptionGone = "SubscriptionGone"
)

// State variable keys
const (
	VarSubscriptionID = "subscriptionId"
	VarEventID        = "eventId"
	VarLastStatus     = "lastStatus"
	VarDeliveredAt    = "deliveredAt"
)

// SubscriptionStore is the part of the stellar repository a delivery needs.
type SubscriptionStore interface {
	FindSubscription(ctx context.Context, id int64) (*domain.StellarSubscription, error)
	FindEvent(ctx context.Context, id int64) (*domain.StellarEvent, error)
	SetSubscriptionActive(ctx context.Context, id int64, active bool) error
}

// WebhookSender posts one signed event to the subscription's endpoint and
// returns the HTTP status code of the response.
type WebhookSender interface {
	Send(ctx context.Context, sub *domain.StellarSubscription, event *domain.StellarEvent, deliveryID string) (int, error)
}

// WebhookDeliveryWorkflow delivers one stellar event to one subscription.
type WebhookDeliveryWorkflow struct {
	core.BaseWorkflow
	Store  SubscriptionStore
	Sender WebhookSender
	Clock  core.Clock

	sub   *domain.StellarSubscription
	event *domain.StellarEvent
}

func (w *WebhookDeliveryWorkflow) InitialState() string {
	return WebhookLoad
}

func (w *WebhookDeliveryWorkflow) Description() string {
	return "Delivers a Stellar account event to a subscriber webhook with signed payload and retries"
}

func (w *WebhookDeliveryWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		WebhookLoad: {WebhookSend, WebhookSkipped},
		WebhookSend: {WebhookDelivered, WebhookSubscriptionGone, WebhookSkipped},
	}
}

func (w *WebhookDeliveryWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: WebhookLoad, StateType: models.StateStart},
		{Name: WebhookSend, StateType: models.StateNormal},
		{Name: WebhookDelivered, StateType: models.StateEnd},
		{Name: WebhookSkipped, StateType: models.StateEnd},
		{Name: WebhookSubscriptionGone, StateType: models.StateEnd},
	}
}

func (w *WebhookDeliveryWorkflow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    8,
		RetryIntervalMin: 30 * time.Second,
		RetryIntervalMax: time.Hour,
	}
}

func (w *WebhookDeliveryWorkflow) idVar(key string) (int64, error) {
	id, err := strconv.ParseInt(w.Var(key), 10, 64)
	if err != nil {
		return 0, core.Permanent(fmt.Errorf("state var %s: %w", key, err))
	}
	return id, nil
}

// load reads the subscription and event; a nil subscription means it was deleted.
func (w *WebhookDeliveryWorkflow) load(ctx context.Context) error {
	subID, err := w.idVar(VarSubscriptionID)
	if err != nil {
		return err
	}
	eventID, err := w.idVar(VarEventID)
	if err != nil {
		return err
	}
	if w.sub, err = w.Store.FindSubscription(ctx, subID); err != nil {
		return fmt.Errorf("load subscription %d: %w", subID, err)
	}
	if w.event, err = w.Store.FindEvent(ctx, eventID); err != nil {
		return fmt.Errorf("load event %d: %w", eventID, err)
	}
	if w.event == nil {
		return core.Permanent(fmt.Errorf("event %d not found", eventID))
	}
	return nil
}

func (w *WebhookDeliveryWorkflow) LoadDelivery(ctx context.Context) (*models.NextState, error) {
	if err := w.load(ctx); err != nil {
		return nil, err
	}
	if w.sub == nil || !w.sub.Active {
		return &models.NextState{Name: WebhookSkipped, ActionLog: "subscription inactive or deleted"}, nil
	}
	return &models.NextState{Name: WebhookSend}, nil
}

func (w *WebhookDeliveryWorkflow) SendWebhook(ctx context.Context) (*models.NextState, error) {
	if err := w.load(ctx); err != nil {
		return nil, err
	}
	if w.sub == nil || !w.sub.Active {
		return &models.NextState{Name: WebhookSkipped, ActionLog: "subscription inactive or deleted"}, nil
	}

	status, err := w.Sender.Send(ctx, w.sub, w.event, w.WorkflowState.ExternalID)
	w.StateVariables[VarLastStatus] = strconv.Itoa(status)
	switch {
	case err != nil:
		telemetry.RecordWebhookDelivery("error")
		return nil, fmt.Errorf("deliver to %s: %w", w.sub.WebhookURL, err)
	case status == http.StatusGone:
		telemetry.RecordWebhookDelivery("gone")
		slog.InfoContext(ctx, "Webhook endpoint gone, deactivating subscription", "subscription_id", w.sub.ID)
		if err := w.Store.SetSubscriptionActive(ctx, w.sub.ID, false); err != nil {
			return nil, err
		}
		return &models.NextState{Name: WebhookSubscriptionGone, ActionLog: "endpoint answered 410, subscription deactivated"}, nil
	case status >= 200 && status < 300:
		telemetry.RecordWebhookDelivery("delivered")
		w.StateVariables[VarDeliveredAt] = w.Clock.Now().UTC().Format(time.RFC3339)
		return &models.NextState{Name: WebhookDelivered, ActionLog: fmt.Sprintf("delivered with status %d", status)}, nil
	default:
		telemetry.RecordWebhookDelivery("rejected")
		return nil, &DeliveryError{Status: status}
	}
}

// DeliveryError is a non-2xx answer from a webhook endpoint.
type DeliveryError struct {
	Status int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook answered %d %s", e.Status, http.StatusText(e.Status))
}

