package workflows

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellara-labs/stellara/internal/config"
	"github.com/stellara-labs/stellara/internal/engine"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

type fakeStore struct {
	sub         *domain.StellarSubscription
	event       *domain.StellarEvent
	deactivated []int64
}

func (f *fakeStore) FindSubscription(_ context.Context, id int64) (*domain.StellarSubscription, error) {
	if f.sub != nil && f.sub.ID == id {
		return f.sub, nil
	}
	return nil, nil
}

func (f *fakeStore) FindEvent(_ context.Context, id int64) (*domain.StellarEvent, error) {
	if f.event != nil && f.event.ID == id {
		return f.event, nil
	}
	return nil, nil
}

func (f *fakeStore) SetSubscriptionActive(_ context.Context, id int64, active bool) error {
	if !active {
		f.deactivated = append(f.deactivated, id)
	}
	return nil
}

type fakeSender struct {
	status     int
	err        error
	deliveryID string
}

func (f *fakeSender) Send(_ context.Context, _ *domain.StellarSubscription, _ *domain.StellarEvent, deliveryID string) (int, error) {
	f.deliveryID = deliveryID
	return f.status, f.err
}

type fakeEraser struct {
	calls []string
	fail  error
}

func (f *fakeEraser) RevokeAccess(context.Context, int64) error {
	f.calls = append(f.calls, "revoke")
	return f.fail
}

func (f *fakeEraser) DeletePersonalData(context.Context, int64) error {
	f.calls = append(f.calls, "delete")
	return nil
}

func (f *fakeEraser) AnonymizeRecords(context.Context, int64) error {
	f.calls = append(f.calls, "anonymize")
	return nil
}

func newDelivery(store *fakeStore, sender *fakeSender) *WebhookDeliveryWorkflow {
	wf := Registry(Deps{Subscriptions: store, Sender: sender, Clock: core.NewFakeClock(testNow)})[WebhookDeliveryType]().(*WebhookDeliveryWorkflow)
	data := &domain.Workflow{ID: 1, ExternalID: "webhook:3:9"}
	data.StateVars.String, data.StateVars.Valid = `{"subscriptionId":"3","eventId":"9"}`, true
	wf.Setup(data)
	return wf
}

func activeStore() *fakeStore {
	return &fakeStore{
		sub:   &domain.StellarSubscription{ID: 3, Active: true, WebhookURL: "https://example.test/hook"},
		event: &domain.StellarEvent{ID: 9, Type: "payment"},
	}
}

func TestWebhookDelivery_Delivered(t *testing.T) {
	sender := &fakeSender{status: http.StatusNoContent}
	wf := newDelivery(activeStore(), sender)

	next, err := wf.LoadDelivery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WebhookSend, next.Name)

	next, err = wf.SendWebhook(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WebhookDelivered, next.Name)
	assert.Equal(t, "webhook:3:9", sender.deliveryID)
	assert.Equal(t, "204", wf.Var(VarLastStatus))
	assert.Equal(t, "2025-03-14T09:26:53Z", wf.Var(VarDeliveredAt))
}

func TestWebhookDelivery_RetryableStatus(t *testing.T) {
	wf := newDelivery(activeStore(), &fakeSender{status: http.StatusBadGateway})

	_, err := wf.SendWebhook(context.Background())
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusBadGateway, de.Status)
	assert.False(t, errors.Is(err, core.ErrPermanent))
}

func TestWebhookDelivery_GoneDeactivates(t *testing.T) {
	store := activeStore()
	wf := newDelivery(store, &fakeSender{status: http.StatusGone})

	next, err := wf.SendWebhook(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WebhookSubscriptionGone, next.Name)
	assert.Equal(t, []int64{3}, store.deactivated)
}

func TestWebhookDelivery_SkipsInactiveSubscription(t *testing.T) {
	store := activeStore()
	store.sub.Active = false
	wf := newDelivery(store, &fakeSender{})

	next, err := wf.LoadDelivery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WebhookSkipped, next.Name)
}

func TestWebhookDelivery_MissingEventIsPermanent(t *testing.T) {
	store := activeStore()
	store.event = nil
	wf := newDelivery(store, &fakeSender{})

	_, err := wf.LoadDelivery(context.Background())
	assert.ErrorIs(t, err, core.ErrPermanent)
}

func TestGdprErasure_RunsAllSteps(t *testing.T) {
	eraser := &fakeEraser{}
	wf := Registry(Deps{Eraser: eraser})[GdprErasureType]().(*GdprErasureWorkflow)
	data := &domain.Workflow{ID: 2}
	data.StateVars.String, data.StateVars.Valid = `{"userId":"12"}`, true
	wf.Setup(data)

	state := wf.InitialState()
	steps := map[string]func(context.Context) (*models.NextState, error){
		ErasureStart:     wf.StartErasure,
		ErasureRevoke:    wf.RevokeAccess,
		ErasureDelete:    wf.DeletePersonalData,
		ErasureAnonymize: wf.AnonymizeRecords,
	}
	for state != ErasureDone {
		next, err := steps[state](context.Background())
		require.NoError(t, err, state)
		assert.Contains(t, wf.StateTransitions()[state], next.Name)
		state = next.Name
	}
	assert.Equal(t, []string{"revoke", "delete", "anonymize"}, eraser.calls)
}

func TestGdprErasure_InvalidUserIsPermanent(t *testing.T) {
	wf := &GdprErasureWorkflow{Eraser: &fakeEraser{}}
	wf.Setup(&domain.Workflow{ID: 2})

	_, err := wf.StartErasure(context.Background())
	assert.ErrorIs(t, err, core.ErrPermanent)
}

func TestGdprErasure_StepErrorIsRetryable(t *testing.T) {
	eraser := &fakeEraser{fail: errors.New("db down")}
	wf := &GdprErasureWorkflow{Eraser: eraser}
	data := &domain.Workflow{ID: 2}
	data.StateVars.String, data.StateVars.Valid = `{"userId":"12"}`, true
	wf.Setup(data)

	_, err := wf.RevokeAccess(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrPermanent))
}

type memDefinitions struct {
	saved []domain.WorkflowDefinition
}

func (m *memDefinitions) FindAll(context.Context) ([]domain.WorkflowDefinition, error) {
	return m.saved, nil
}

func (m *memDefinitions) FindByName(context.Context, string) (*domain.WorkflowDefinition, error) {
	return nil, nil
}

func (m *memDefinitions) Save(_ context.Context, def *domain.WorkflowDefinition) error {
	m.saved = append(m.saved, *def)
	return nil
}

func TestRegistryDefinitionsAreValid(t *testing.T) {
	defs := &memDefinitions{}
	wm := engine.NewWorkflowManager(nil, nil, nil, defs, Registry(Deps{}), config.Engine{}, "test", nil)

	require.NoError(t, wm.RegisterWorkflowDefinitions(context.Background()))
	require.Len(t, defs.saved, 2)
	assert.Equal(t, GdprErasureType, defs.saved[0].Name)
	assert.Equal(t, WebhookDeliveryType, defs.saved[1].Name)
	assert.Contains(t, defs.saved[1].FlowChart, "SendWebhook --> SubscriptionGone")
}
