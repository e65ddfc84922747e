package apidocs

import (
	_ "embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/stellara-labs/stellara/internal/util"
)

const (
	Title       = "Stellara API"
	Description = "API for authentication, monitoring Stellar network events, and delivering webhooks"
	Version     = "1.0"

	TagAuth     = "Authentication"
	TagStellar  = "Stellar Monitor"
	TagUsers    = "Users"
	TagWorkflow = "Workflows"
	TagVoice    = "Voice"
	TagMarket   = "Market"
	TagPrivacy  = "Privacy"
	TagAdmin    = "Administration"
	TagSystem   = "System"

	bearerScheme = "bearer"
)

//go:embed swagger.html
var swaggerPage string

var pathParam = regexp.MustCompile(`\{(\w+)\}`)

// access levels of an operation
const (
	public = iota
	user
	admin
)

type operation struct {
	method  string
	path    string
	tag     string
	summary string
	access  int
	body    *openapi3.Schema
	status  int
	query   []string
}

func str() *openapi3.Schema  { return openapi3.NewStringSchema() }
func num() *openapi3.Schema  { return openapi3.NewInt64Schema() }
func flag() *openapi3.Schema { return openapi3.NewBoolSchema() }
func list(items *openapi3.Schema) *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(items)
}

// object builds a request schema; names ending in * are required.
func object(props map[string]*openapi3.Schema) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	var required []string
	for name, prop := range props {
		if trimmed, ok := strings.CutSuffix(name, "*"); ok {
			name = trimmed
			required = append(required, name)
		}
		s.WithProperty(name, prop)
	}
	slices.Sort(required)
	s.Required = required
	return s
}

func operations() []operation {
	account := str().WithPattern(`^G[A-Z2-7]{55}$`)
	signed := object(map[string]*openapi3.Schema{"publicKey*": account, "nonce*": str(), "signature*": str().WithFormat("byte")})
	bind := object(map[string]*openapi3.Schema{"publicKey*": account, "nonce*": str(), "signature*": str().WithFormat("byte"), "label": str()})
	refresh := object(map[string]*openapi3.Schema{"refreshToken*": str()})
	workflow := object(map[string]*openapi3.Schema{
		"externalId*": str(), "workflowType*": str(), "businessKey*": str(), "executorGroup": str(),
		"stateVars": openapi3.NewObjectSchema(), "nextActivation": openapi3.NewDateTimeSchema(), "delay": str(),
	})
	state := object(map[string]*openapi3.Schema{"state*": str(), "nextActivation": openapi3.NewDateTimeSchema()})
	wait := map[string]*openapi3.Schema{"waitSeconds": num(), "checkSeconds": num(), "waitForStates": list(str())}

	createAndWait := object(map[string]*openapi3.Schema{"createWorkflowRequest*": workflow})
	stateAndWait := object(map[string]*openapi3.Schema{"updateWorkflowStateRequest*": state, "fromStates": list(str())})
	for name, s := range wait {
		createAndWait.WithProperty(name, s)
		stateAndWait.WithProperty(name, s)
	}

	return []operation{
		{method: "POST", path: "/api/auth/nonce", tag: TagAuth, summary: "Issue a login nonce for a Stellar account",
			body: object(map[string]*openapi3.Schema{"publicKey*": account})},
		{method: "POST", path: "/api/auth/wallet", tag: TagAuth, summary: "Log in with a signed nonce", body: signed},
		{method: "POST", path: "/api/auth/login", tag: TagAuth, summary: "Log in with username and password",
			body: object(map[string]*openapi3.Schema{"username*": str(), "password*": str().WithFormat("password")})},
		{method: "POST", path: "/api/auth/refresh", tag: TagAuth, summary: "Rotate a refresh token", body: refresh},
		{method: "POST", path: "/api/auth/logout", tag: TagAuth, summary: "Revoke a refresh token", body: refresh, status: http.StatusNoContent},
		{method: "GET", path: "/api/auth/me", tag: TagAuth, summary: "Current user and wallets", access: user},
		{method: "GET", path: "/api/auth/wallets", tag: TagAuth, summary: "List bound wallets", access: user},
		{method: "POST", path: "/api/auth/wallets", tag: TagAuth, summary: "Bind another wallet", access: user, body: bind, status: http.StatusCreated},
		{method: "DELETE", path: "/api/auth/wallets/{publicKey}", tag: TagAuth, summary: "Unbind a wallet", access: user, status: http.StatusNoContent},
		{method: "GET", path: "/api/auth/tokens", tag: TagAuth, summary: "List API tokens", access: user},
		{method: "POST", path: "/api/auth/tokens", tag: TagAuth, summary: "Create an API token", access: user, status: http.StatusCreated,
			body: object(map[string]*openapi3.Schema{"name*": str(), "scopes": list(str()), "expiresIn": str()})},
		{method: "DELETE", path: "/api/auth/tokens/{id}", tag: TagAuth, summary: "Revoke an API token", access: user, status: http.StatusNoContent},

		{method: "GET", path: "/api/users", tag: TagUsers, summary: "List users", access: admin},
		{method: "POST", path: "/api/users", tag: TagUsers, summary: "Create a user", access: admin, status: http.StatusCreated,
			body: object(map[string]*openapi3.Schema{"username*": str(), "password*": str().WithFormat("password"), "role": str().WithEnum("user", "admin")})},
		{method: "GET", path: "/api/users/{id}", tag: TagUsers, summary: "Get a user", access: admin},
		{method: "PATCH", path: "/api/users/{id}", tag: TagUsers, summary: "Change role or enabled flag", access: admin,
			body: object(map[string]*openapi3.Schema{"role": str().WithEnum("user", "admin"), "enabled": flag()})},
		{method: "DELETE", path: "/api/users/{id}", tag: TagUsers, summary: "Delete a user", access: admin, status: http.StatusNoContent},
		{method: "POST", path: "/api/users/{id}/erasure", tag: TagUsers, summary: "Erase a user's personal data", access: admin, status: http.StatusAccepted},

		{method: "GET", path: "/api/stellar/subscriptions", tag: TagStellar, summary: "List webhook subscriptions", access: user},
		{method: "POST", path: "/api/stellar/subscriptions", tag: TagStellar, summary: "Subscribe a webhook to account events", access: user, status: http.StatusCreated,
			body: object(map[string]*openapi3.Schema{"account*": account, "webhookUrl*": str().WithFormat("uri"), "eventTypes": list(str())})},
		{method: "PATCH", path: "/api/stellar/subscriptions/{id}", tag: TagStellar, summary: "Pause or resume a subscription", access: user,
			body: object(map[string]*openapi3.Schema{"active*": flag()})},
		{method: "DELETE", path: "/api/stellar/subscriptions/{id}", tag: TagStellar, summary: "Delete a subscription", access: user, status: http.StatusNoContent},
		{method: "GET", path: "/api/stellar/events", tag: TagStellar, summary: "List observed account events", access: user, query: []string{"account", "limit", "offset"}},
		{method: "GET", path: "/api/stellar/status", tag: TagStellar, summary: "Monitor status and cursors", access: user},

		{method: "POST", path: "/api/workflows", tag: TagWorkflow, summary: "Create a workflow", access: admin, body: workflow, status: http.StatusCreated},
		{method: "POST", path: "/api/workflows/createAndWait", tag: TagWorkflow, summary: "Create a workflow and wait for a state", access: admin, body: createAndWait},
		{method: "POST", path: "/api/workflows/search", tag: TagWorkflow, summary: "Search workflows", access: admin,
			body: object(map[string]*openapi3.Schema{"externalId": str(), "workflowType": str(), "state": str(), "status": str(), "limit": num(), "offset": num()})},
		{method: "GET", path: "/api/workflows/overview", tag: TagWorkflow, summary: "Workflow counts by type and status", access: admin},
		{method: "GET", path: "/api/workflows/{id}", tag: TagWorkflow, summary: "Get a workflow by id or external id", access: admin},
		{method: "GET", path: "/api/workflows/{id}/steps", tag: TagWorkflow, summary: "Workflow execution history", access: admin},
		{method: "POST", path: "/api/workflows/{id}/state", tag: TagWorkflow, summary: "Move a workflow to another state", access: admin, body: state},
		{method: "POST", path: "/api/workflows/{id}/stateAndWait", tag: TagWorkflow, summary: "Move a workflow and wait for a state", access: admin, body: stateAndWait},
		{method: "POST", path: "/api/workflows/{id}/statevars", tag: TagWorkflow, summary: "Set a state variable", access: admin,
			body: object(map[string]*openapi3.Schema{"key*": str(), "value": str()})},
		{method: "GET", path: "/api/definitions", tag: TagWorkflow, summary: "List workflow definitions", access: admin},
		{method: "GET", path: "/api/definitions/{name}", tag: TagWorkflow, summary: "Get a workflow definition", access: admin},
		{method: "GET", path: "/api/definitions/{name}/overview", tag: TagWorkflow, summary: "Workflow counts by state", access: admin},
		{method: "GET", path: "/api/executors", tag: TagWorkflow, summary: "Recently active executors", access: admin},

		{method: "POST", path: "/api/voice/jobs", tag: TagVoice, summary: "Queue a transcription", access: user, status: http.StatusAccepted,
			body: object(map[string]*openapi3.Schema{"audioUrl*": str().WithFormat("uri"), "language": str()})},
		{method: "GET", path: "/api/voice/jobs", tag: TagVoice, summary: "List transcription jobs", access: user, query: []string{"limit"}},
		{method: "GET", path: "/api/voice/jobs/{id}", tag: TagVoice, summary: "Get a transcription job", access: user},

		{method: "GET", path: "/api/market/assets", tag: TagMarket, summary: "Tracked assets"},
		{method: "GET", path: "/api/market/prices", tag: TagMarket, summary: "Cached prices", query: []string{"assets"}},
		{method: "GET", path: "/api/market/prices/{asset}", tag: TagMarket, summary: "Cached price of one asset"},

		{method: "GET", path: "/api/gdpr/consents", tag: TagPrivacy, summary: "Current consents", access: user},
		{method: "GET", path: "/api/gdpr/consents/history", tag: TagPrivacy, summary: "Consent history", access: user},
		{method: "POST", path: "/api/gdpr/consents/{purpose}", tag: TagPrivacy, summary: "Grant consent", access: user, status: http.StatusCreated,
			body: object(map[string]*openapi3.Schema{"version": str()})},
		{method: "DELETE", path: "/api/gdpr/consents/{purpose}", tag: TagPrivacy, summary: "Withdraw consent", access: user},
		{method: "GET", path: "/api/gdpr/export", tag: TagPrivacy, summary: "Export personal data", access: user},
		{method: "POST", path: "/api/gdpr/erasure", tag: TagPrivacy, summary: "Erase own personal data", access: user, status: http.StatusAccepted},

		{method: "GET", path: "/api/audit", tag: TagAdmin, summary: "Search the audit log", access: admin,
			query: []string{"userId", "action", "resource", "from", "to", "limit", "offset"}},
		{method: "GET", path: "/api/queues/{name}", tag: TagAdmin, summary: "Job queue depth", access: admin},

		{method: "GET", path: "/health", tag: TagSystem, summary: "Dependency health"},
	}
}

func operationID(op operation) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(op.method))
	for _, part := range strings.FieldsFunc(op.path, func(r rune) bool { return r == '/' || r == '{' || r == '}' }) {
		if part == "api" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

// Document builds the OpenAPI description of the HTTP API.
func Document() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    &openapi3.Info{Title: Title, Description: Description, Version: Version},
		Tags: openapi3.Tags{
			{Name: TagAuth, Description: "Wallet and password login, tokens and bound wallets"},
			{Name: TagStellar, Description: "Account event monitoring and webhook subscriptions"},
			{Name: TagUsers},
			{Name: TagWorkflow},
			{Name: TagVoice},
			{Name: TagMarket},
			{Name: TagPrivacy},
			{Name: TagAdmin},
			{Name: TagSystem},
		},
		Components: &openapi3.Components{
			SecuritySchemes: openapi3.SecuritySchemes{
				bearerScheme: &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
			},
		},
		Paths: openapi3.NewPaths(),
	}

	errorBody := openapi3.NewObjectSchema().
		WithProperty("error", str()).
		WithProperty("message", str())

	for _, op := range operations() {
		o := openapi3.NewOperation()
		o.Tags = []string{op.tag}
		o.Summary = op.summary
		o.OperationID = operationID(op)

		for _, m := range pathParam.FindAllStringSubmatch(op.path, -1) {
			// workflow ids also accept the external id
			schema := str()
			if m[1] == "id" && !strings.HasPrefix(op.path, "/api/workflows/") {
				schema = num()
			}
			o.AddParameter(openapi3.NewPathParameter(m[1]).WithSchema(schema))
		}
		for _, q := range op.query {
			o.AddParameter(openapi3.NewQueryParameter(q).WithSchema(str()))
		}
		if op.body != nil {
			o.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(op.body)}
		}

		status := op.status
		if status == 0 {
			status = http.StatusOK
		}
		ok := openapi3.NewResponse().WithDescription(http.StatusText(status))
		if status != http.StatusNoContent {
			ok = ok.WithJSONSchema(openapi3.NewObjectSchema())
		}
		o.Responses = openapi3.NewResponses(openapi3.WithStatus(status, &openapi3.ResponseRef{Value: ok}))
		o.AddResponse(http.StatusBadRequest, openapi3.NewResponse().WithDescription("Invalid request").WithJSONSchema(errorBody))

		if op.access != public {
			o.Security = openapi3.NewSecurityRequirements().With(openapi3.NewSecurityRequirement().Authenticate(bearerScheme))
			o.AddResponse(http.StatusUnauthorized, openapi3.NewResponse().WithDescription("Missing or invalid credentials").WithJSONSchema(errorBody))
		}
		if op.access == admin {
			o.AddResponse(http.StatusForbidden, openapi3.NewResponse().WithDescription("Admin role required").WithJSONSchema(errorBody))
		}
		doc.AddOperation(op.path, op.method, o)
	}
	return doc
}

type pageData struct {
	Title   string
	SpecURL string
}

// DocsController serves the OpenAPI document and a Swagger UI page.
type DocsController struct {
	spec []byte
	page *template.Template
}

func NewDocsController() (*DocsController, error) {
	spec, err := json.Marshal(Document())
	if err != nil {
		return nil, err
	}
	page, err := template.New("swagger").Parse(swaggerPage)
	if err != nil {
		return nil, err
	}
	return &DocsController{spec: spec, page: page}, nil
}

func (c *DocsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/docs", c.handlePage)
	mux.HandleFunc("GET /api/docs/openapi.json", c.handleSpec)
}

func (c *DocsController) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.page.Execute(w, pageData{Title: Title, SpecURL: "/api/docs/openapi.json"}); err != nil {
		slog.ErrorContext(r.Context(), "Failed to render docs page", "error", err)
		util.WriteError(w, http.StatusInternalServerError, "Failed to render docs page")
	}
}

func (c *DocsController) handleSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.spec)
}
