package stellar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/stellara-labs/stellara/internal/realtime"
	"github.com/stellara-labs/stellara/internal/telemetry"
	"github.com/stellara-labs/stellara/internal/workflows"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

// maxPagesPerPoll bounds how far one account can catch up in a single poll.
const maxPagesPerPoll = 10

type Store interface {
	ActiveAccounts(ctx context.Context) ([]string, error)
	ActiveSubscriptionsForAccount(ctx context.Context, account string) ([]domain.StellarSubscription, error)
	Cursor(ctx context.Context, account string) (*domain.StellarCursor, error)
	Cursors(ctx context.Context) ([]domain.StellarCursor, error)
	SaveCursor(ctx context.Context, account, cursor string) error
	SaveEvent(ctx context.Context, e *domain.StellarEvent) (bool, error)
}

type OperationSource interface {
	LatestCursor(ctx context.Context, account string) (string, error)
	Operations(ctx context.Context, account, cursor string, limit int) ([]Operation, error)
}

type Publisher interface {
	Publish(ctx context.Context, channel, event string, data any) error
}

// WorkflowCreator is satisfied by the workflow manager. Creation is idempotent by external id.
type WorkflowCreator interface {
	CreateWorkflow(ctx context.Context, req models.CreateWorkflowRequest, createdBy string) (*domain.Workflow, bool, error)
}

// Status is what GET /api/stellar/status reports.
type Status struct {
	Enabled      bool                   `json:"enabled"`
	Running      bool                   `json:"running"`
	Interval     string                 `json:"interval"`
	LastPoll     *time.Time             `json:"lastPoll,omitempty"`
	LastError    string                 `json:"lastError,omitempty"`
	Accounts     int                    `json:"accounts"`
	EventsStored int64                  `json:"eventsStored"`
	Cursors      []domain.StellarCursor `json:"cursors"`
}

type Monitor struct {
	store     Store
	source    OperationSource
	publisher Publisher
	workflows WorkflowCreator
	interval  time.Duration
	pageLimit int
	enabled   bool
	clock     core.Clock

	mu     sync.RWMutex
	status Status
}

func NewMonitor(store Store, source OperationSource, publisher Publisher, creator WorkflowCreator,
	interval time.Duration, pageLimit int, enabled bool, clock core.Clock) *Monitor {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if pageLimit <= 0 || pageLimit > 200 {
		pageLimit = 50
	}
	return &Monitor{
		store:     store,
		source:    source,
		publisher: publisher,
		workflows: creator,
		interval:  interval,
		pageLimit: pageLimit,
		enabled:   enabled,
		clock:     clock,
		status:    Status{Enabled: enabled, Interval: interval.String()},
	}
}

// Run polls immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if !m.enabled {
		slog.InfoContext(ctx, "Stellar monitor disabled")
		return
	}
	m.setRunning(true)
	defer m.setRunning(false)
	slog.InfoContext(ctx, "Starting stellar monitor", "interval", m.interval, "page_limit", m.pageLimit)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if _, err := m.PollOnce(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "Stellar poll finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stellar monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce polls every watched account and returns the number of new events.
// A failing account does not stop the others.
func (m *Monitor) PollOnce(ctx context.Context) (int, error) {
	accounts, err := m.store.ActiveAccounts(ctx)
	if err != nil {
		m.recordPoll(0, 0, err)
		return 0, fmt.Errorf("list watched accounts: %w", err)
	}
	total := 0
	var errs []error
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		n, err := m.pollAccount(ctx, account)
		total += n
		if err != nil {
			slog.WarnContext(ctx, "Polling account failed", "account", account, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", account, err))
		}
	}
	err = errors.Join(errs...)
	m.recordPoll(len(accounts), total, err)
	return total, err
}

func (m *Monitor) pollAccount(ctx context.Context, account string) (int, error) {
	cur, err := m.store.Cursor(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if cur == nil {
		// first sight of the account: start at its newest operation, history is not replayed
		latest, err := m.source.LatestCursor(ctx, account)
		if err != nil {
			return 0, fmt.Errorf("latest cursor: %w", err)
		}
		if err := m.store.SaveCursor(ctx, account, latest); err != nil {
			return 0, fmt.Errorf("seed cursor: %w", err)
		}
		slog.InfoContext(ctx, "Seeded stellar cursor", "account", account, "cursor", latest)
		return 0, nil
	}

	cursor := cur.Cursor
	stored := 0
	var subs []domain.StellarSubscription
	for page := 0; page < maxPagesPerPoll; page++ {
		ops, err := m.source.Operations(ctx, account, cursor, m.pageLimit)
		if err != nil {
			return stored, fmt.Errorf("fetch operations: %w", err)
		}
		if len(ops) == 0 {
			return stored, nil
		}
		if subs == nil {
			if subs, err = m.store.ActiveSubscriptionsForAccount(ctx, account); err != nil {
				return stored, fmt.Errorf("load subscriptions: %w", err)
			}
		}
		for _, op := range ops {
			event := &domain.StellarEvent{
				Account:        account,
				OperationID:    op.ID,
				PagingToken:    op.PagingToken,
				Type:           op.Type,
				TxHash:         op.TxHash,
				LedgerClosedAt: op.CreatedAt,
				Payload:        op.Raw,
			}
			inserted, err := m.store.SaveEvent(ctx, event)
			if err != nil {
				return stored, err
			}
			if inserted {
				stored++
				telemetry.RecordStellarEvent(event.Type)
				m.publish(ctx, event)
			}
			// stored events are dispatched again until the cursor moves past them
			if err := m.dispatch(ctx, event, subs); err != nil {
				return stored, err
			}
		}
		cursor = ops[len(ops)-1].PagingToken
		if err := m.store.SaveCursor(ctx, account, cursor); err != nil {
			return stored, fmt.Errorf("advance cursor: %w", err)
		}
		if len(ops) < m.pageLimit {
			break
		}
	}
	return stored, nil
}

func (m *Monitor) publish(ctx context.Context, event *domain.StellarEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, realtime.AccountChannel(event.Account), realtime.EventStellar, event); err != nil {
		slog.WarnContext(ctx, "Failed to publish stellar event", "event_id", event.ID, "error", err)
	}
}

// dispatch starts one delivery per matching subscription. Creation is idempotent by external id.
func (m *Monitor) dispatch(ctx context.Context, event *domain.StellarEvent, subs []domain.StellarSubscription) error {
	for i := range subs {
		sub := &subs[i]
		if !sub.Matches(event.Type) {
			continue
		}
		req := models.CreateWorkflowRequest{
			ExternalID:   DeliveryExternalID(sub.ID, event.ID),
			WorkflowType: workflows.WebhookDeliveryType,
			BusinessKey:  event.Account,
			StateVars: map[string]string{
				workflows.VarSubscriptionID: strconv.FormatInt(sub.ID, 10),
				workflows.VarEventID:        strconv.FormatInt(event.ID, 10),
			},
		}
		if _, _, err := m.workflows.CreateWorkflow(ctx, req, "stellar-monitor"); err != nil {
			return fmt.Errorf("create webhook delivery %s: %w", req.ExternalID, err)
		}
	}
	return nil
}

// DeliveryExternalID makes webhook deliveries idempotent per subscription and event.
func DeliveryExternalID(subscriptionID, eventID int64) string {
	return fmt.Sprintf("webhook:%d:%d", subscriptionID, eventID)
}

func (m *Monitor) setRunning(running bool) {
	m.mu.Lock()
	m.status.Running = running
	m.mu.Unlock()
}

func (m *Monitor) recordPoll(accounts, stored int, err error) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.LastPoll = &now
	m.status.Accounts = accounts
	m.status.EventsStored += int64(stored)
	m.status.LastError = ""
	if err != nil {
		m.status.LastError = err.Error()
	}
}

// Status reports the loop state together with the stored cursors.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	m.mu.RLock()
	s := m.status
	m.mu.RUnlock()
	cursors, err := m.store.Cursors(ctx)
	if err != nil {
		return s, err
	}
	s.Cursors = cursors
	return s, nil
}
