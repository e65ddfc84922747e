package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/internal/gdpr"
	"github.com/stellara-labs/stellara/internal/marketdata"
	"github.com/stellara-labs/stellara/internal/queue"
	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/internal/stellar"
	"github.com/stellara-labs/stellara/internal/voice"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

const testAccount = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"

var (
	alice = &auth.Principal{UserID: 7, Username: "alice", Role: domain.RoleUser, Method: auth.MethodJWT}
	admin = &auth.Principal{UserID: 1, Username: "root", Role: domain.RoleAdmin, Method: auth.MethodJWT}
)

// as attaches the principal the auth middleware would have resolved.
func as(req *http.Request, p *auth.Principal) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

type routable interface {
	RegisterRoutes(mux *http.ServeMux)
}

// serve sends req through the controller's registered routes, guards included.
func serve(c routable, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	c.RegisterRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

type MockAuthService struct {
	IssueNonceFunc     func(ctx context.Context, publicKey string) (*auth.NonceChallenge, error)
	WalletLoginFunc    func(ctx context.Context, publicKey, nonce, signature string, client auth.ClientInfo) (*auth.Session, error)
	PasswordLoginFunc  func(ctx context.Context, username, password string, client auth.ClientInfo) (*auth.Session, error)
	RefreshFunc        func(ctx context.Context, raw string, client auth.ClientInfo) (*auth.Session, error)
	LogoutFunc         func(ctx context.Context, raw string, client auth.ClientInfo) error
	UserFunc           func(ctx context.Context, id int64) (*domain.User, error)
	WalletsFunc        func(ctx context.Context, userID int64) ([]domain.WalletBinding, error)
	BindWalletFunc     func(ctx context.Context, userID int64, publicKey, nonce, signature, label string) (*domain.WalletBinding, error)
	UnbindWalletFunc   func(ctx context.Context, userID int64, publicKey string) error
	CreateApiTokenFunc func(ctx context.Context, userID int64, name string, scopes []string, ttl time.Duration) (*auth.CreatedApiToken, error)
	ListApiTokensFunc  func(ctx context.Context, userID int64) ([]auth.ApiTokenView, error)
	RevokeApiTokenFunc func(ctx context.Context, userID, id int64) error
}

func (m *MockAuthService) IssueNonce(ctx context.Context, publicKey string) (*auth.NonceChallenge, error) {
	return m.IssueNonceFunc(ctx, publicKey)
}
func (m *MockAuthService) WalletLogin(ctx context.Context, publicKey, nonce, signature string, client auth.ClientInfo) (*auth.Session, error) {
	return m.WalletLoginFunc(ctx, publicKey, nonce, signature, client)
}
func (m *MockAuthService) PasswordLogin(ctx context.Context, username, password string, client auth.ClientInfo) (*auth.Session, error) {
	return m.PasswordLoginFunc(ctx, username, password, client)
}
func (m *MockAuthService) Refresh(ctx context.Context, raw string, client auth.ClientInfo) (*auth.Session, error) {
	return m.RefreshFunc(ctx, raw, client)
}
func (m *MockAuthService) Logout(ctx context.Context, raw string, client auth.ClientInfo) error {
	return m.LogoutFunc(ctx, raw, client)
}
func (m *MockAuthService) User(ctx context.Context, id int64) (*domain.User, error) {
	return m.UserFunc(ctx, id)
}
func (m *MockAuthService) Wallets(ctx context.Context, userID int64) ([]domain.WalletBinding, error) {
	return m.WalletsFunc(ctx, userID)
}
func (m *MockAuthService) BindWallet(ctx context.Context, userID int64, publicKey, nonce, signature, label string) (*domain.WalletBinding, error) {
	return m.BindWalletFunc(ctx, userID, publicKey, nonce, signature, label)
}
func (m *MockAuthService) UnbindWallet(ctx context.Context, userID int64, publicKey string) error {
	return m.UnbindWalletFunc(ctx, userID, publicKey)
}
func (m *MockAuthService) CreateApiToken(ctx context.Context, userID int64, name string, scopes []string, ttl time.Duration) (*auth.CreatedApiToken, error) {
	return m.CreateApiTokenFunc(ctx, userID, name, scopes, ttl)
}
func (m *MockAuthService) ListApiTokens(ctx context.Context, userID int64) ([]auth.ApiTokenView, error) {
	return m.ListApiTokensFunc(ctx, userID)
}
func (m *MockAuthService) RevokeApiToken(ctx context.Context, userID, id int64) error {
	return m.RevokeApiTokenFunc(ctx, userID, id)
}

type MockUserAdmin struct {
	UsersFunc        func(ctx context.Context) ([]domain.User, error)
	UserFunc         func(ctx context.Context, id int64) (*domain.User, error)
	CreateUserFunc   func(ctx context.Context, username, password string, role domain.Role) (*domain.User, error)
	UpdateAccessFunc func(ctx context.Context, id int64, role *domain.Role, enabled *bool) (*domain.User, error)
	DeleteUserFunc   func(ctx context.Context, id int64) error
}

func (m *MockUserAdmin) Users(ctx context.Context) ([]domain.User, error) { return m.UsersFunc(ctx) }
func (m *MockUserAdmin) User(ctx context.Context, id int64) (*domain.User, error) {
	return m.UserFunc(ctx, id)
}
func (m *MockUserAdmin) CreateUser(ctx context.Context, username, password string, role domain.Role) (*domain.User, error) {
	return m.CreateUserFunc(ctx, username, password, role)
}
func (m *MockUserAdmin) UpdateAccess(ctx context.Context, id int64, role *domain.Role, enabled *bool) (*domain.User, error) {
	return m.UpdateAccessFunc(ctx, id, role, enabled)
}
func (m *MockUserAdmin) DeleteUser(ctx context.Context, id int64) error { return m.DeleteUserFunc(ctx, id) }

type MockErasure struct {
	RequestErasureFunc func(ctx context.Context, userID int64, requestedBy string) (*domain.Workflow, error)
}

func (m *MockErasure) RequestErasure(ctx context.Context, userID int64, requestedBy string) (*domain.Workflow, error) {
	return m.RequestErasureFunc(ctx, userID, requestedBy)
}

type MockWorkflowService struct {
	CreateWorkflowFunc     func(ctx context.Context, req models.CreateWorkflowRequest, createdBy string) (*domain.Workflow, bool, error)
	FindWorkflowFunc       func(ctx context.Context, idOrExternalID string) (*domain.Workflow, error)
	SearchWorkflowsFunc    func(ctx context.Context, req models.SearchWorkflowRequest) ([]domain.Workflow, error)
	StepsFunc              func(ctx context.Context, workflowID int64) ([]domain.WorkflowStep, error)
	ChangeStateFunc        func(ctx context.Context, wf *domain.Workflow, state string, next *time.Time, changedBy string) error
	UpdateStateVarFunc     func(ctx context.Context, wf *domain.Workflow, key, value string) error
	WaitForStateFunc       func(ctx context.Context, id int64, states []string, check time.Duration) (*domain.Workflow, error)
	ListDefinitionsFunc    func(ctx context.Context) ([]domain.WorkflowDefinition, error)
	GetDefinitionFunc      func(ctx context.Context, name string) (*domain.WorkflowDefinition, error)
	OverviewFunc           func(ctx context.Context) ([]repository.WorkflowOverviewRow, error)
	DefinitionOverviewFunc func(ctx context.Context, workflowType string) ([]repository.DefinitionStateRow, error)
}

func (m *MockWorkflowService) CreateWorkflow(ctx context.Context, req models.CreateWorkflowRequest, createdBy string) (*domain.Workflow, bool, error) {
	return m.CreateWorkflowFunc(ctx, req, createdBy)
}
func (m *MockWorkflowService) FindWorkflow(ctx context.Context, idOrExternalID string) (*domain.Workflow, error) {
	return m.FindWorkflowFunc(ctx, idOrExternalID)
}
func (m *MockWorkflowService) SearchWorkflows(ctx context.Context, req models.SearchWorkflowRequest) ([]domain.Workflow, error) {
	return m.SearchWorkflowsFunc(ctx, req)
}
func (m *MockWorkflowService) Steps(ctx context.Context, workflowID int64) ([]domain.WorkflowStep, error) {
	return m.StepsFunc(ctx, workflowID)
}
func (m *MockWorkflowService) ChangeState(ctx context.Context, wf *domain.Workflow, state string, next *time.Time, changedBy string) error {
	return m.ChangeStateFunc(ctx, wf, state, next, changedBy)
}
func (m *MockWorkflowService) UpdateStateVar(ctx context.Context, wf *domain.Workflow, key, value string) error {
	return m.UpdateStateVarFunc(ctx, wf, key, value)
}
func (m *MockWorkflowService) WaitForState(ctx context.Context, id int64, states []string, check time.Duration) (*domain.Workflow, error) {
	return m.WaitForStateFunc(ctx, id, states, check)
}
func (m *MockWorkflowService) ListWorkflowDefinitions(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	return m.ListDefinitionsFunc(ctx)
}
func (m *MockWorkflowService) GetWorkflowDefinitionByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	return m.GetDefinitionFunc(ctx, name)
}
func (m *MockWorkflowService) Overview(ctx context.Context) ([]repository.WorkflowOverviewRow, error) {
	return m.OverviewFunc(ctx)
}
func (m *MockWorkflowService) DefinitionOverview(ctx context.Context, workflowType string) ([]repository.DefinitionStateRow, error) {
	return m.DefinitionOverviewFunc(ctx, workflowType)
}

type MockExecutorLister struct {
	ListExecutorsFunc func(ctx context.Context, limit int) ([]*domain.Executor, error)
}

func (m *MockExecutorLister) ListExecutors(ctx context.Context, limit int) ([]*domain.Executor, error) {
	return m.ListExecutorsFunc(ctx, limit)
}

type MockSubscriptionService struct {
	SubscribeFunc func(ctx context.Context, userID int64, account, webhookURL string, eventTypes []string) (*stellar.Subscription, error)
	ListFunc      func(ctx context.Context, userID int64) ([]stellar.Subscription, error)
	SetActiveFunc func(ctx context.Context, userID, id int64, active bool) (*stellar.Subscription, error)
	DeleteFunc    func(ctx context.Context, userID, id int64) error
	EventsFunc    func(ctx context.Context, userID int64, admin bool, account string, limit, offset int64) ([]domain.StellarEvent, error)
}

func (m *MockSubscriptionService) Subscribe(ctx context.Context, userID int64, account, webhookURL string, eventTypes []string) (*stellar.Subscription, error) {
	return m.SubscribeFunc(ctx, userID, account, webhookURL, eventTypes)
}
func (m *MockSubscriptionService) List(ctx context.Context, userID int64) ([]stellar.Subscription, error) {
	return m.ListFunc(ctx, userID)
}
func (m *MockSubscriptionService) SetActive(ctx context.Context, userID, id int64, active bool) (*stellar.Subscription, error) {
	return m.SetActiveFunc(ctx, userID, id, active)
}
func (m *MockSubscriptionService) Delete(ctx context.Context, userID, id int64) error {
	return m.DeleteFunc(ctx, userID, id)
}
func (m *MockSubscriptionService) Events(ctx context.Context, userID int64, admin bool, account string, limit, offset int64) ([]domain.StellarEvent, error) {
	return m.EventsFunc(ctx, userID, admin, account, limit, offset)
}

type MockMonitorStatus struct {
	StatusFunc func(ctx context.Context) (stellar.Status, error)
}

func (m *MockMonitorStatus) Status(ctx context.Context) (stellar.Status, error) {
	return m.StatusFunc(ctx)
}

type MockVoiceService struct {
	CreateFunc func(ctx context.Context, userID int64, audioURL, language string) (*voice.Job, error)
	GetFunc    func(ctx context.Context, userID, id int64) (*voice.Job, error)
	ListFunc   func(ctx context.Context, userID int64, limit int) ([]voice.Job, error)
}

func (m *MockVoiceService) Create(ctx context.Context, userID int64, audioURL, language string) (*voice.Job, error) {
	return m.CreateFunc(ctx, userID, audioURL, language)
}
func (m *MockVoiceService) Get(ctx context.Context, userID, id int64) (*voice.Job, error) {
	return m.GetFunc(ctx, userID, id)
}
func (m *MockVoiceService) List(ctx context.Context, userID int64, limit int) ([]voice.Job, error) {
	return m.ListFunc(ctx, userID, limit)
}

type MockMarketService struct {
	AssetsFunc func() []string
	PricesFunc func(ctx context.Context, assets []string) ([]marketdata.Quote, error)
	PriceFunc  func(ctx context.Context, asset string) (*marketdata.Quote, error)
}

func (m *MockMarketService) Assets() []string { return m.AssetsFunc() }
func (m *MockMarketService) Prices(ctx context.Context, assets []string) ([]marketdata.Quote, error) {
	return m.PricesFunc(ctx, assets)
}
func (m *MockMarketService) Price(ctx context.Context, asset string) (*marketdata.Quote, error) {
	return m.PriceFunc(ctx, asset)
}

type MockAuditSearcher struct {
	SearchFunc func(ctx context.Context, q repository.AuditSearch) ([]domain.AuditLog, error)
}

func (m *MockAuditSearcher) Search(ctx context.Context, q repository.AuditSearch) ([]domain.AuditLog, error) {
	return m.SearchFunc(ctx, q)
}

type MockGdprService struct {
	GrantFunc          func(ctx context.Context, userID int64, purpose domain.ConsentPurpose, version string, client auth.ClientInfo) (*domain.Consent, error)
	WithdrawFunc       func(ctx context.Context, userID int64, purpose domain.ConsentPurpose, client auth.ClientInfo) (*domain.Consent, error)
	CurrentFunc        func(ctx context.Context, userID int64) ([]domain.Consent, error)
	HistoryFunc        func(ctx context.Context, userID int64) ([]domain.Consent, error)
	ExportFunc         func(ctx context.Context, userID int64) (*gdpr.Export, error)
	RequestErasureFunc func(ctx context.Context, userID int64, requestedBy string) (*domain.Workflow, error)
}

func (m *MockGdprService) Grant(ctx context.Context, userID int64, purpose domain.ConsentPurpose, version string, client auth.ClientInfo) (*domain.Consent, error) {
	return m.GrantFunc(ctx, userID, purpose, version, client)
}
func (m *MockGdprService) Withdraw(ctx context.Context, userID int64, purpose domain.ConsentPurpose, client auth.ClientInfo) (*domain.Consent, error) {
	return m.WithdrawFunc(ctx, userID, purpose, client)
}
func (m *MockGdprService) Current(ctx context.Context, userID int64) ([]domain.Consent, error) {
	return m.CurrentFunc(ctx, userID)
}
func (m *MockGdprService) History(ctx context.Context, userID int64) ([]domain.Consent, error) {
	return m.HistoryFunc(ctx, userID)
}
func (m *MockGdprService) Export(ctx context.Context, userID int64) (*gdpr.Export, error) {
	return m.ExportFunc(ctx, userID)
}
func (m *MockGdprService) RequestErasure(ctx context.Context, userID int64, requestedBy string) (*domain.Workflow, error) {
	return m.RequestErasureFunc(ctx, userID, requestedBy)
}

type MockQueueStats struct {
	StatsFunc func(ctx context.Context, name string) (*queue.Stats, error)
}

func (m *MockQueueStats) Stats(ctx context.Context, name string) (*queue.Stats, error) {
	return m.StatsFunc(ctx, name)
}
