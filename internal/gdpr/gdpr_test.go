package gdpr

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/internal/config"
	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/internal/workflows"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

var testStart = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

const testWallet = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"

type fakeCreator struct {
	requests []models.CreateWorkflowRequest
}

func (c *fakeCreator) CreateWorkflow(_ context.Context, req models.CreateWorkflowRequest, _ string) (*domain.Workflow, bool, error) {
	for _, r := range c.requests {
		if r.ExternalID == req.ExternalID {
			return &domain.Workflow{ID: 1, ExternalID: req.ExternalID}, false, nil
		}
	}
	c.requests = append(c.requests, req)
	return &domain.Workflow{ID: 1, ExternalID: req.ExternalID}, true, nil
}

type fixture struct {
	svc     *Service
	eraser  *Eraser
	creator *fakeCreator
	repos   struct {
		users    *repository.UserRepository
		wallets  *repository.WalletBindingRepository
		tokens   *repository.ApiTokenRepository
		refresh  *repository.RefreshTokenRepository
		voice    *repository.VoiceJobRepository
		audit    *repository.AuditLogRepository
		stellar  *repository.StellarRepository
		consents *repository.ConsentRepository
	}
	userID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Database{Type: config.DATABASE_TYPE_SQLITE, SQLiteFile: filepath.Join(t.TempDir(), "gdpr.db")}
	require.NoError(t, database.Migrate(database.SQLite, cfg.MigrationURL(), database.Up))
	db, dialect, err := database.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	clock := core.NewFakeClock(testStart)

	f := &fixture{creator: &fakeCreator{}}
	f.repos.users = repository.NewUserRepository(db, dialect, clock)
	f.repos.wallets = repository.NewWalletBindingRepository(db, dialect, clock)
	f.repos.tokens = repository.NewApiTokenRepository(db, dialect, clock)
	f.repos.refresh = repository.NewRefreshTokenRepository(db, dialect, clock)
	f.repos.voice = repository.NewVoiceJobRepository(db, dialect, clock)
	f.repos.audit = repository.NewAuditLogRepository(db, dialect, clock)
	f.repos.stellar = repository.NewStellarRepository(db, dialect, clock)
	f.repos.consents = repository.NewConsentRepository(db, dialect, clock)

	stores := Stores{
		Consents:      f.repos.consents,
		Users:         f.repos.users,
		Wallets:       f.repos.wallets,
		ApiTokens:     f.repos.tokens,
		RefreshTokens: f.repos.refresh,
		VoiceJobs:     f.repos.voice,
		AuditLogs:     f.repos.audit,
		Subscriptions: f.repos.stellar,
	}
	f.svc = NewService(stores, f.creator, clock)
	f.eraser = NewEraser(stores)

	ctx := context.Background()
	user := &domain.User{Username: "ada", Role: domain.RoleUser, Enabled: true,
		Email: sql.NullString{String: "ada@example.com", Valid: true}}
	f.userID, err = f.repos.users.Save(ctx, user)
	require.NoError(t, err)

	_, err = f.repos.wallets.Save(ctx, &domain.WalletBinding{UserID: f.userID, PublicKey: testWallet, Primary: true})
	require.NoError(t, err)
	_, err = f.repos.tokens.Save(ctx, &domain.ApiToken{UserID: f.userID, Name: "ci", Prefix: "stl_abcd", TokenHash: "h1", Scopes: "read"})
	require.NoError(t, err)
	_, err = f.repos.refresh.Save(ctx, &domain.RefreshToken{UserID: f.userID, TokenHash: "r1", Family: "fam", ExpiresAt: testStart.Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.repos.voice.Save(ctx, &domain.VoiceJob{UserID: f.userID, JobKey: "k1", AudioURL: "https://cdn.example.com/a.ogg", Language: "en"})
	require.NoError(t, err)
	_, err = f.repos.stellar.SaveSubscription(ctx, &domain.StellarSubscription{UserID: f.userID, Account: testWallet,
		WebhookURL: "https://example.com/hook", Secret: "whsec_x", Active: true})
	require.NoError(t, err)
	_, err = f.repos.audit.Save(ctx, &domain.AuditLog{UserID: sql.NullInt64{Int64: f.userID, Valid: true}, Action: "auth.login",
		Resource: "auth", Method: "POST", Path: "/api/auth/login", Status: 200, IP: "10.0.0.1", UserAgent: "curl"})
	require.NoError(t, err)
	return f
}

func TestConsents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := auth.ClientInfo{IP: "10.0.0.1", UserAgent: "test"}

	ok, err := f.svc.HasConsent(ctx, f.userID, domain.PurposeVoiceProcessing)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.Grant(ctx, f.userID, "profiling", "", client)
	assert.ErrorIs(t, err, ErrInvalidPurpose)

	c, err := f.svc.Grant(ctx, f.userID, domain.PurposeVoiceProcessing, "2.1", client)
	require.NoError(t, err)
	assert.True(t, c.Granted)
	_, err = f.svc.Grant(ctx, f.userID, domain.PurposeTerms, "", client)
	require.NoError(t, err)

	ok, err = f.svc.HasConsent(ctx, f.userID, domain.PurposeVoiceProcessing)
	require.NoError(t, err)
	assert.True(t, ok)

	w, err := f.svc.Withdraw(ctx, f.userID, domain.PurposeVoiceProcessing, client)
	require.NoError(t, err)
	assert.False(t, w.Granted)
	assert.Equal(t, "2.1", w.Version)

	ok, err = f.svc.HasConsent(ctx, f.userID, domain.PurposeVoiceProcessing)
	require.NoError(t, err)
	assert.False(t, ok)

	current, err := f.svc.Current(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, current, 2)
	assert.Equal(t, domain.PurposeTerms, current[0].Purpose)
	assert.True(t, current[0].Granted)
	assert.Equal(t, domain.PurposeVoiceProcessing, current[1].Purpose)
	assert.False(t, current[1].Granted)

	history, err := f.svc.History(ctx, f.userID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Grant(ctx, f.userID, domain.PurposeMarketing, "", auth.ClientInfo{})
	require.NoError(t, err)

	export, err := f.svc.Export(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, testStart, export.ExportedAt)
	assert.Equal(t, "ada", export.User.Username)
	assert.Equal(t, "ada@example.com", export.User.Email)
	require.Len(t, export.Wallets, 1)
	assert.Equal(t, testWallet, export.Wallets[0].PublicKey)
	assert.Len(t, export.Consents, 1)
	require.Len(t, export.ApiTokens, 1)
	assert.Equal(t, "stl_abcd", export.ApiTokens[0].Prefix)
	require.Len(t, export.Subscriptions, 1)
	assert.Empty(t, export.Subscriptions[0].Secret)
	assert.Len(t, export.VoiceJobs, 1)
	require.Len(t, export.AuditLog, 1)
	assert.Equal(t, "auth.login", export.AuditLog[0].Action)

	_, err = f.svc.Export(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRequestErasure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf, err := f.svc.RequestErasure(ctx, f.userID, "ada")
	require.NoError(t, err)
	assert.Equal(t, ErasureExternalID(f.userID), wf.ExternalID)
	_, err = f.svc.RequestErasure(ctx, f.userID, "ada")
	require.NoError(t, err)

	require.Len(t, f.creator.requests, 1)
	req := f.creator.requests[0]
	assert.Equal(t, workflows.GdprErasureType, req.WorkflowType)
	assert.Equal(t, "1", req.StateVars[workflows.VarUserID])

	_, err = f.svc.RequestErasure(ctx, 999, "admin")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestEraser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Grant(ctx, f.userID, domain.PurposeTerms, "", auth.ClientInfo{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)

	// running every step twice must be harmless
	for range 2 {
		require.NoError(t, f.eraser.RevokeAccess(ctx, f.userID))
		require.NoError(t, f.eraser.DeletePersonalData(ctx, f.userID))
		require.NoError(t, f.eraser.AnonymizeRecords(ctx, f.userID))
	}

	user, err := f.repos.users.FindByID(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, "erased-1", user.Username)
	assert.False(t, user.Email.Valid)
	assert.False(t, user.Enabled)
	assert.True(t, user.Deleted)

	token, err := f.repos.refresh.FindByHash(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, token.RevokedAt.Valid)

	wallets, err := f.repos.wallets.FindByUserID(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, wallets)
	tokens, err := f.repos.tokens.FindByUserID(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, tokens)
	jobs, err := f.repos.voice.FindByUserID(ctx, f.userID, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	accounts, err := f.repos.stellar.ActiveAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	logs, err := f.repos.audit.Search(ctx, repository.AuditSearch{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].UserID.Valid)
	assert.Empty(t, logs[0].IP)

	consents, err := f.repos.consents.History(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, consents, 1)
	assert.Empty(t, consents[0].IP)
}
