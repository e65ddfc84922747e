package stellar

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellara-labs/stellara/internal/realtime"
	"github.com/stellara-labs/stellara/internal/workflows"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

var testStart = time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC)

type memStore struct {
	mu      sync.Mutex
	subs    []domain.StellarSubscription
	cursors map[string]string
	events  []domain.StellarEvent
	saveErr error
}

func newMemStore(subs ...domain.StellarSubscription) *memStore {
	return &memStore{subs: subs, cursors: map[string]string{}}
}

func (s *memStore) ActiveAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	seen := map[string]bool{}
	for _, sub := range s.subs {
		if sub.Active && !seen[sub.Account] {
			seen[sub.Account] = true
			accounts = append(accounts, sub.Account)
		}
	}
	return accounts, nil
}

func (s *memStore) ActiveSubscriptionsForAccount(ctx context.Context, account string) ([]domain.StellarSubscription, error) {
	var out []domain.StellarSubscription
	for _, sub := range s.subs {
		if sub.Active && sub.Account == account {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *memStore) Cursor(ctx context.Context, account string) (*domain.StellarCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[account]
	if !ok {
		return nil, nil
	}
	return &domain.StellarCursor{Account: account, Cursor: c}, nil
}

func (s *memStore) Cursors(ctx context.Context) ([]domain.StellarCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StellarCursor
	for a, c := range s.cursors {
		out = append(out, domain.StellarCursor{Account: a, Cursor: c})
	}
	return out, nil
}

func (s *memStore) SaveCursor(ctx context.Context, account, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[account] = cursor
	return nil
}

func (s *memStore) SaveEvent(ctx context.Context, e *domain.StellarEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return false, s.saveErr
	}
	for _, existing := range s.events {
		if existing.Account == e.Account && existing.OperationID == e.OperationID {
			e.ID = existing.ID
			return false, nil
		}
	}
	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *e)
	return true, nil
}

// fakeSource serves a fixed operation list per account, paging by token.
type fakeSource struct {
	latest map[string]string
	ops    map[string][]Operation
	err    error
	calls  int
}

func (f *fakeSource) LatestCursor(ctx context.Context, account string) (string, error) {
	return f.latest[account], f.err
}

func (f *fakeSource) Operations(ctx context.Context, account, cursor string, limit int) ([]Operation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []Operation
	for _, op := range f.ops[account] {
		if cursor != "" && op.PagingToken <= cursor {
			continue
		}
		out = append(out, op)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type published struct {
	channel, event string
}

type fakePublisher struct {
	messages []published
}

func (p *fakePublisher) Publish(ctx context.Context, channel, event string, data any) error {
	p.messages = append(p.messages, published{channel, event})
	return nil
}

// fakeCreator dedupes by external id like the workflow manager. failures makes the next calls fail.
type fakeCreator struct {
	requests []models.CreateWorkflowRequest
	created  []string
	failures int
}

func (c *fakeCreator) CreateWorkflow(ctx context.Context, req models.CreateWorkflowRequest, createdBy string) (*domain.Workflow, bool, error) {
	c.requests = append(c.requests, req)
	if c.failures > 0 {
		c.failures--
		return nil, false, errors.New("database is locked")
	}
	for _, id := range c.created {
		if id == req.ExternalID {
			return &domain.Workflow{ExternalID: req.ExternalID}, false, nil
		}
	}
	c.created = append(c.created, req.ExternalID)
	return &domain.Workflow{ExternalID: req.ExternalID}, true, nil
}

const otherAccount = "GAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB7JZX"

func ops(account string, types ...string) []Operation {
	var out []Operation
	for i, typ := range types {
		token := strconv.Itoa(100 + i + 1)
		out = append(out, Operation{ID: token, PagingToken: token, Type: typ, TxHash: "tx" + token,
			CreatedAt: testStart, Raw: `{"id":"` + token + `"}`})
	}
	return out
}

func newTestMonitor(store *memStore, source *fakeSource, pageLimit int) (*Monitor, *fakePublisher, *fakeCreator) {
	pub := &fakePublisher{}
	creator := &fakeCreator{}
	m := NewMonitor(store, source, pub, creator, time.Second, pageLimit, true, core.NewFakeClock(testStart))
	return m, pub, creator
}

func TestMonitor_SeedsCursorWithoutReplay(t *testing.T) {
	store := newMemStore(domain.StellarSubscription{ID: 1, Account: testAccount, Active: true})
	source := &fakeSource{
		latest: map[string]string{testAccount: "102"},
		ops:    map[string][]Operation{testAccount: ops(testAccount, "payment", "payment", "payment")},
	}
	m, pub, creator := newTestMonitor(store, source, 10)

	n, err := m.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "102", store.cursors[testAccount])
	assert.Zero(t, source.calls)

	n, err = m.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "103", store.cursors[testAccount])
	assert.Len(t, pub.messages, 1)
	assert.Len(t, creator.requests, 1)
}

func TestMonitor_DispatchesToMatchingSubscriptions(t *testing.T) {
	store := newMemStore(
		domain.StellarSubscription{ID: 1, Account: testAccount, Active: true},
		domain.StellarSubscription{ID: 2, Account: testAccount, Active: true, EventTypes: "create_account"},
		domain.StellarSubscription{ID: 3, Account: testAccount, Active: false},
	)
	store.cursors[testAccount] = ""
	source := &fakeSource{ops: map[string][]Operation{testAccount: ops(testAccount, "payment", "create_account")}}
	m, pub, creator := newTestMonitor(store, source, 10)

	n, err := m.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.events, 2)

	assert.Equal(t, []published{
		{realtime.AccountChannel(testAccount), realtime.EventStellar},
		{realtime.AccountChannel(testAccount), realtime.EventStellar},
	}, pub.messages)

	var ids []string
	for _, req := range creator.requests {
		assert.Equal(t, workflows.WebhookDeliveryType, req.WorkflowType)
		assert.Equal(t, testAccount, req.BusinessKey)
		ids = append(ids, req.ExternalID)
	}
	assert.Equal(t, []string{"webhook:1:1", "webhook:1:2", "webhook:2:2"}, ids)
	assert.Equal(t, "2", creator.requests[2].StateVars[workflows.VarEventID])
	assert.Equal(t, "2", creator.requests[2].StateVars[workflows.VarSubscriptionID])
}

func TestMonitor_PagesAndSkipsDuplicates(t *testing.T) {
	store := newMemStore(domain.StellarSubscription{ID: 1, Account: testAccount, Active: true})
	store.cursors[testAccount] = ""
	source := &fakeSource{ops: map[string][]Operation{testAccount: ops(testAccount, "payment", "payment", "payment", "payment", "payment")}}
	m, _, creator := newTestMonitor(store, source, 2)

	n, err := m.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "105", store.cursors[testAccount])
	assert.Equal(t, 3, source.calls)

	// a cursor reset must not redeliver
	store.cursors[testAccount] = ""
	n, err = m.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, creator.created, 5)
	assert.Equal(t, "105", store.cursors[testAccount])
}

func TestMonitor_RetriesDeliveryCreationForStoredEvents(t *testing.T) {
	store := newMemStore(domain.StellarSubscription{ID: 1, Account: testAccount, Active: true})
	store.cursors[testAccount] = "100"
	source := &fakeSource{ops: map[string][]Operation{testAccount: ops(testAccount, "payment")}}
	m, pub, creator := newTestMonitor(store, source, 10)
	creator.failures = 1

	n, err := m.PollOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook:1:1")
	assert.Equal(t, 1, n)
	assert.Equal(t, "100", store.cursors[testAccount], "cursor stays until deliveries exist")
	assert.Empty(t, creator.created)

	n, err = m.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"webhook:1:1"}, creator.created)
	assert.Equal(t, "101", store.cursors[testAccount])
	assert.Len(t, store.events, 1)
	assert.Len(t, pub.messages, 1, "stored events are published once")
}

func TestMonitor_FailingAccountDoesNotBlockOthers(t *testing.T) {
	store := newMemStore(
		domain.StellarSubscription{ID: 1, Account: testAccount, Active: true},
		domain.StellarSubscription{ID: 2, Account: otherAccount, Active: true},
	)
	store.cursors[testAccount] = ""
	store.cursors[otherAccount] = "900"
	source := &fakeSource{ops: map[string][]Operation{testAccount: ops(testAccount, "payment")}}
	m, _, _ := newTestMonitor(store, source, 10)

	store.saveErr = errors.New("disk full")
	n, err := m.PollOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "", store.cursors[testAccount])

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Contains(t, status.LastError, "disk full")
	assert.Equal(t, 2, status.Accounts)
	assert.Len(t, status.Cursors, 2)
	require.NotNil(t, status.LastPoll)
	assert.True(t, status.LastPoll.Equal(testStart))

	store.saveErr = nil
	n, err = m.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	status, _ = m.Status(context.Background())
	assert.Empty(t, status.LastError)
	assert.Equal(t, int64(1), status.EventsStored)
}

func TestMonitor_DisabledRunReturns(t *testing.T) {
	m := NewMonitor(newMemStore(), &fakeSource{}, nil, &fakeCreator{}, time.Second, 10, false, nil)
	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled monitor kept running")
	}
}

func TestDeliveryExternalID(t *testing.T) {
	assert.Equal(t, "webhook:12:345", DeliveryExternalID(12, 345))
}
