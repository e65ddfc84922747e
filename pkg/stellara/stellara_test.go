package stellara

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/stellara-labs/stellara/internal/config"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("NODE_ENV", "test")
	t.Setenv("DB_TYPE", "SQLITE")
	t.Setenv("DB_SQLITE_FILE", filepath.Join(t.TempDir(), "stellara.db"))
	t.Setenv("DB_AUTO_MIGRATE", "true")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("STELLAR_MONITOR_ENABLED", "false")
	t.Setenv("OTEL_SDK_DISABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	app, err := Open(t.Context(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func do(app *App, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	return w
}

func TestAppServesSystemRoutes(t *testing.T) {
	app := newTestApp(t)

	w := do(app, "GET", "/", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, appName, gjson.Get(w.Body.String(), "name").String())

	w = do(app, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up", gjson.Get(w.Body.String(), "checks.database").String())
	assert.Equal(t, "disabled", gjson.Get(w.Body.String(), "checks.redis").String())

	w = do(app, "GET", "/api/docs/openapi.json", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Stellara API", gjson.Get(w.Body.String(), "info.title").String())

	w = do(app, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestAppPasswordLoginAndAdminRoutes(t *testing.T) {
	app := newTestApp(t)
	_, err := app.Auth.CreateUser(t.Context(), "ops", "correct-horse-battery", domain.RoleAdmin)
	require.NoError(t, err)

	w := do(app, "POST", "/api/auth/login", "", `{"username":"ops","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(app, "POST", "/api/auth/login", "", `{"username":"ops","password":"correct-horse-battery"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := gjson.Get(w.Body.String(), "accessToken").String()
	require.NotEmpty(t, token)

	w = do(app, "GET", "/api/users", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(app, "GET", "/api/users", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", gjson.Get(w.Body.String(), "0.username").String())

	w = do(app, "GET", "/api/stellar/status", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "enabled").Bool())

	w = do(app, "GET", "/api/definitions", token, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(app, "GET", "/api/queues/voice", token, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(app, "GET", "/api/audit?action=auth.login.failed", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, len(gjson.Parse(w.Body.String()).Array()), 1)
}
