package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *AuthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/nonce", c.handleNonce)
	mux.HandleFunc("POST /api/auth/wallet", c.handleWalletLogin)
	mux.HandleFunc("POST /api/auth/login", c.handlePasswordLogin)
	mux.HandleFunc("POST /api/auth/refresh", c.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", c.handleLogout)
	mux.Handle("GET /api/auth/me", authed(c.handleMe))
	mux.Handle("GET /api/auth/wallets", authed(c.handleListWallets))
	mux.Handle("POST /api/auth/wallets", authed(c.handleBindWallet))
	mux.Handle("DELETE /api/auth/wallets/{publicKey}", authed(c.handleUnbindWallet))
	mux.Handle("GET /api/auth/tokens", authed(c.handleListApiTokens))
	mux.Handle("POST /api/auth/tokens", authed(c.handleCreateApiToken))
	mux.Handle("DELETE /api/auth/tokens/{id}", authed(c.handleRevokeApiToken))
}

func (c *UsersController) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/users", adminOnly(c.handleGetUsers))
	mux.Handle("POST /api/users", adminOnly(c.handleCreateUser))
	mux.Handle("GET /api/users/{id}", adminOnly(c.handleGetUserById))
	mux.Handle("PATCH /api/users/{id}", adminOnly(c.handleUpdateUser))
	mux.Handle("DELETE /api/users/{id}", adminOnly(c.handleDeleteUser))
	mux.Handle("POST /api/users/{id}/erasure", adminOnly(c.handleEraseUser))
}

func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/workflows", adminOnly(c.handleCreateWorkflow))
	mux.Handle("POST /api/workflows/createAndWait", adminOnly(c.handleCreateAndWaitWorkflow))
	mux.Handle("POST /api/workflows/search", adminOnly(c.handleSearchWorkflows))
	mux.Handle("GET /api/workflows/overview", adminOnly(c.handleOverview))
	mux.Handle("GET /api/workflows/{id}", adminOnly(c.handleGetWorkflow))
	mux.Handle("GET /api/workflows/{id}/steps", adminOnly(c.handleGetSteps))
	mux.Handle("POST /api/workflows/{id}/state", adminOnly(c.handleUpdateWorkflowState))
	mux.Handle("POST /api/workflows/{id}/stateAndWait", adminOnly(c.handleUpdateWorkflowStateAndWait))
	mux.Handle("POST /api/workflows/{id}/statevars", adminOnly(c.handleUpdateStateVar))
	mux.Handle("GET /api/definitions", adminOnly(c.handleListWorkflowDefinitions))
	mux.Handle("GET /api/definitions/{name}", adminOnly(c.handleGetWorkflowDefinitionByName))
	mux.Handle("GET /api/definitions/{name}/overview", adminOnly(c.handleDefinitionOverview))
}

func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/executors", adminOnly(c.handleGetExecutors))
}

func (c *StellarController) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/stellar/subscriptions", authed(c.handleListSubscriptions))
	mux.Handle("POST /api/stellar/subscriptions", authed(c.handleCreateSubscription))
	mux.Handle("PATCH /api/stellar/subscriptions/{id}", authed(c.handleUpdateSubscription))
	mux.Handle("DELETE /api/stellar/subscriptions/{id}", authed(c.handleDeleteSubscription))
	mux.Handle("GET /api/stellar/events", authed(c.handleListEvents))
	mux.Handle("GET /api/stellar/status", authed(c.handleStatus))
}

func (c *VoiceController) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/voice/jobs", authed(c.handleCreateJob))
	mux.Handle("GET /api/voice/jobs", authed(c.handleListJobs))
	mux.Handle("GET /api/voice/jobs/{id}", authed(c.handleGetJob))
}

func (c *MarketController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/market/assets", c.handleAssets)
	mux.HandleFunc("GET /api/market/prices", c.handlePrices)
	mux.HandleFunc("GET /api/market/prices/{asset}", c.handlePrice)
}

func (c *AuditController) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/audit", adminOnly(c.handleSearch))
}

func (c *GdprController) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/gdpr/consents", authed(c.handleCurrentConsents))
	mux.Handle("GET /api/gdpr/consents/history", authed(c.handleConsentHistory))
	mux.Handle("POST /api/gdpr/consents/{purpose}", authed(c.handleGrantConsent))
	mux.Handle("DELETE /api/gdpr/consents/{purpose}", authed(c.handleWithdrawConsent))
	mux.Handle("GET /api/gdpr/export", authed(c.handleExport))
	mux.Handle("POST /api/gdpr/erasure", authed(c.handleRequestErasure))
}

func (c *QueueController) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/queues/{name}", adminOnly(c.handleStats))
}

func (c *HealthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", c.handleHello)
	mux.HandleFunc("GET /health", c.handleHealth)
}
