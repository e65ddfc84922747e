// Package gdpr keeps the consent trail and implements data export and erasure.
package gdpr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stellara-labs/stellara/internal/audit"
	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/internal/stellar"
	"github.com/stellara-labs/stellara/internal/voice"
	"github.com/stellara-labs/stellara/internal/workflows"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

const (
	DefaultConsentVersion = "1.0"
	exportAuditLimit      = 1000
	exportVoiceLimit      = 1000
)

var (
	ErrInvalidPurpose = errors.New("unknown consent purpose")
	ErrUserNotFound   = errors.New("user not found")
)

type ConsentStore interface {
	Save(ctx context.Context, c *domain.Consent) (int64, error)
	History(ctx context.Context, userID int64) ([]domain.Consent, error)
	Current(ctx context.Context, userID int64) ([]domain.Consent, error)
	Latest(ctx context.Context, userID int64, purpose domain.ConsentPurpose) (*domain.Consent, error)
	AnonymizeUser(ctx context.Context, userID int64) (int64, error)
}

type UserStore interface {
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	UpdateAccess(ctx context.Context, id int64, role *domain.Role, enabled *bool) error
	Anonymize(ctx context.Context, id int64) error
}

type WalletStore interface {
	FindByUserID(ctx context.Context, userID int64) ([]domain.WalletBinding, error)
	DeleteByUserID(ctx context.Context, userID int64) (int64, error)
}

type ApiTokenStore interface {
	FindByUserID(ctx context.Context, userID int64) ([]domain.ApiToken, error)
	DeleteByUserID(ctx context.Context, userID int64) (int64, error)
}

type RefreshTokenStore interface {
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
}

type VoiceJobStore interface {
	FindByUserID(ctx context.Context, userID int64, limit int) ([]domain.VoiceJob, error)
	DeleteByUserID(ctx context.Context, userID int64) (int64, error)
}

type AuditStore interface {
	Search(ctx context.Context, s repository.AuditSearch) ([]domain.AuditLog, error)
	AnonymizeUser(ctx context.Context, userID int64) (int64, error)
}

type SubscriptionStore interface {
	SubscriptionsByUser(ctx context.Context, userID int64) ([]domain.StellarSubscription, error)
	DeactivateUserSubscriptions(ctx context.Context, userID int64) (int64, error)
}

type Stores struct {
	Consents      ConsentStore
	Users         UserStore
	Wallets       WalletStore
	ApiTokens     ApiTokenStore
	RefreshTokens RefreshTokenStore
	VoiceJobs     VoiceJobStore
	AuditLogs     AuditStore
	Subscriptions SubscriptionStore
}

type WorkflowCreator interface {
	CreateWorkflow(ctx context.Context, req models.CreateWorkflowRequest, createdBy string) (*domain.Workflow, bool, error)
}

type Service struct {
	stores    Stores
	workflows WorkflowCreator
	clock     core.Clock
}

func NewService(stores Stores, creator WorkflowCreator, clock core.Clock) *Service {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &Service{stores: stores, workflows: creator, clock: clock}
}

func (s *Service) Grant(ctx context.Context, userID int64, purpose domain.ConsentPurpose, version string, client auth.ClientInfo) (*domain.Consent, error) {
	return s.record(ctx, userID, purpose, true, version, client)
}

func (s *Service) Withdraw(ctx context.Context, userID int64, purpose domain.ConsentPurpose, client auth.ClientInfo) (*domain.Consent, error) {
	version := DefaultConsentVersion
	if latest, err := s.stores.Consents.Latest(ctx, userID, purpose); err == nil && latest != nil {
		version = latest.Version
	}
	return s.record(ctx, userID, purpose, false, version, client)
}

func (s *Service) record(ctx context.Context, userID int64, purpose domain.ConsentPurpose, granted bool, version string, client auth.ClientInfo) (*domain.Consent, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPurpose, purpose)
	}
	if version == "" {
		version = DefaultConsentVersion
	}
	c := &domain.Consent{UserID: userID, Purpose: purpose, Granted: granted, Version: version, IP: client.IP, UserAgent: client.UserAgent}
	if _, err := s.stores.Consents.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save consent: %w", err)
	}
	slog.InfoContext(ctx, "Consent recorded", "user_id", userID, "purpose", purpose, "granted", granted)
	return c, nil
}

// Current returns the latest decision per purpose.
func (s *Service) Current(ctx context.Context, userID int64) ([]domain.Consent, error) {
	return s.stores.Consents.Current(ctx, userID)
}

func (s *Service) History(ctx context.Context, userID int64) ([]domain.Consent, error) {
	return s.stores.Consents.History(ctx, userID)
}

// HasConsent is true when the newest record for the purpose grants it.
func (s *Service) HasConsent(ctx context.Context, userID int64, purpose domain.ConsentPurpose) (bool, error) {
	latest, err := s.stores.Consents.Latest(ctx, userID, purpose)
	if err != nil {
		return false, err
	}
	return latest != nil && latest.Granted, nil
}

type ExportedUser struct {
	ID          int64       `json:"id"`
	Username    string      `json:"username"`
	Role        domain.Role `json:"role"`
	DisplayName string      `json:"displayName,omitempty"`
	Email       string      `json:"email,omitempty"`
	Enabled     bool        `json:"enabled"`
	Created     time.Time   `json:"created"`
	Updated     time.Time   `json:"updated"`
}

// Export is the machine readable copy of everything stored about a user.
type Export struct {
	ExportedAt    time.Time              `json:"exportedAt"`
	User          ExportedUser           `json:"user"`
	Wallets       []domain.WalletBinding `json:"wallets"`
	Consents      []domain.Consent       `json:"consents"`
	ApiTokens     []auth.ApiTokenView    `json:"apiTokens"`
	Subscriptions []stellar.Subscription `json:"subscriptions"`
	VoiceJobs     []voice.Job            `json:"voiceJobs"`
	AuditLog      []audit.Entry          `json:"auditLog"`
}

func (s *Service) Export(ctx context.Context, userID int64) (*Export, error) {
	u, err := s.stores.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.Deleted {
		return nil, ErrUserNotFound
	}
	out := &Export{
		ExportedAt: s.clock.Now().UTC(),
		User: ExportedUser{
			ID:          u.ID,
			Username:    u.Username,
			Role:        u.Role,
			DisplayName: u.DisplayName.String,
			Email:       u.Email.String,
			Enabled:     u.Enabled,
			Created:     u.Created,
			Updated:     u.Updated,
		},
	}

	if out.Wallets, err = s.stores.Wallets.FindByUserID(ctx, userID); err != nil {
		return nil, fmt.Errorf("export wallets: %w", err)
	}
	if out.Consents, err = s.stores.Consents.History(ctx, userID); err != nil {
		return nil, fmt.Errorf("export consents: %w", err)
	}

	tokens, err := s.stores.ApiTokens.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("export api tokens: %w", err)
	}
	out.ApiTokens = make([]auth.ApiTokenView, 0, len(tokens))
	for i := range tokens {
		out.ApiTokens = append(out.ApiTokens, auth.ApiTokenViewOf(&tokens[i]))
	}

	subs, err := s.stores.Subscriptions.SubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("export subscriptions: %w", err)
	}
	out.Subscriptions = make([]stellar.Subscription, 0, len(subs))
	for i := range subs {
		out.Subscriptions = append(out.Subscriptions, stellar.SubscriptionView(&subs[i]))
	}

	jobs, err := s.stores.VoiceJobs.FindByUserID(ctx, userID, exportVoiceLimit)
	if err != nil {
		return nil, fmt.Errorf("export voice jobs: %w", err)
	}
	out.VoiceJobs = make([]voice.Job, 0, len(jobs))
	for i := range jobs {
		out.VoiceJobs = append(out.VoiceJobs, voice.JobView(&jobs[i]))
	}

	logs, err := s.stores.AuditLogs.Search(ctx, repository.AuditSearch{UserID: userID, Limit: exportAuditLimit})
	if err != nil {
		return nil, fmt.Errorf("export audit log: %w", err)
	}
	out.AuditLog = audit.EntryViews(logs)
	return out, nil
}

// ErasureExternalID keeps one erasure workflow per user.
func ErasureExternalID(userID int64) string {
	return "gdpr-erasure:" + strconv.FormatInt(userID, 10)
}

// RequestErasure starts the erasure workflow. Repeated requests return the existing workflow.
func (s *Service) RequestErasure(ctx context.Context, userID int64, requestedBy string) (*domain.Workflow, error) {
	u, err := s.stores.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	wf, created, err := s.workflows.CreateWorkflow(ctx, models.CreateWorkflowRequest{
		ExternalID:   ErasureExternalID(userID),
		WorkflowType: workflows.GdprErasureType,
		BusinessKey:  strconv.FormatInt(userID, 10),
		StateVars:    map[string]string{workflows.VarUserID: strconv.FormatInt(userID, 10)},
	}, requestedBy)
	if err != nil {
		return nil, fmt.Errorf("start erasure: %w", err)
	}
	if created {
		slog.InfoContext(ctx, "Erasure requested", "user_id", userID, "workflow_id", wf.ID)
	}
	return wf, nil
}
