package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

func TestUsersController_RequiresAdmin(t *testing.T) {
	c := NewUsersController(&MockUserAdmin{
		UsersFunc: func(context.Context) ([]domain.User, error) {
			return []domain.User{{ID: 1, Username: "root", Role: domain.RoleAdmin}}, nil
		},
	}, nil)

	w := serve(c, httptest.NewRequest("GET", "/api/users", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(c, as(httptest.NewRequest("GET", "/api/users", nil), alice))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(c, as(httptest.NewRequest("GET", "/api/users", nil), admin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "#").Int())
}

func TestUsersController_CreateUser(t *testing.T) {
	var gotRole domain.Role
	c := NewUsersController(&MockUserAdmin{
		CreateUserFunc: func(_ context.Context, username, _ string, role domain.Role) (*domain.User, error) {
			gotRole = role
			if username == "taken" {
				return nil, auth.ErrUsernameTaken
			}
			return &domain.User{ID: 123, Username: username, Role: role, Enabled: true}, nil
		},
	}, nil)

	w := serve(c, as(httptest.NewRequest("POST", "/api/users", strings.NewReader(`{"username":"newuser","password":"password1"}`)), admin))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(123), gjson.Get(w.Body.String(), "id").Int())
	assert.Equal(t, domain.RoleUser, gotRole)

	w = serve(c, as(httptest.NewRequest("POST", "/api/users", strings.NewReader(`{"username":"taken","password":"password1","role":"admin"}`)), admin))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.RoleAdmin, gotRole)

	w = serve(c, as(httptest.NewRequest("POST", "/api/users", strings.NewReader(`{"username":"x","password":"short","role":"owner"}`)), admin))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsersController_GetUserById(t *testing.T) {
	c := NewUsersController(&MockUserAdmin{
		UserFunc: func(_ context.Context, id int64) (*domain.User, error) {
			if id == 1 {
				return &domain.User{ID: 1, Username: "root"}, nil
			}
			return nil, auth.ErrNotFound
		},
	}, nil)

	w := serve(c, as(httptest.NewRequest("GET", "/api/users/1", nil), admin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "root", gjson.Get(w.Body.String(), "username").String())

	w = serve(c, as(httptest.NewRequest("GET", "/api/users/999", nil), admin))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(c, as(httptest.NewRequest("GET", "/api/users/abc", nil), admin))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsersController_UpdateAndDelete(t *testing.T) {
	var deleted int64
	c := NewUsersController(&MockUserAdmin{
		UpdateAccessFunc: func(_ context.Context, id int64, role *domain.Role, enabled *bool) (*domain.User, error) {
			u := &domain.User{ID: id, Role: domain.RoleUser, Enabled: true}
			if role != nil {
				u.Role = *role
			}
			if enabled != nil {
				u.Enabled = *enabled
			}
			return u, nil
		},
		DeleteUserFunc: func(_ context.Context, id int64) error {
			deleted = id
			return nil
		},
	}, nil)

	w := serve(c, as(httptest.NewRequest("PATCH", "/api/users/5", strings.NewReader(`{"enabled":false}`)), admin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "enabled").Bool())

	w = serve(c, as(httptest.NewRequest("PATCH", "/api/users/1", strings.NewReader(`{"role":"user"}`)), admin))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(c, as(httptest.NewRequest("DELETE", "/api/users/1", nil), admin))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, deleted)

	w = serve(c, as(httptest.NewRequest("DELETE", "/api/users/5", nil), admin))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, int64(5), deleted)
}

func TestUsersController_EraseUser(t *testing.T) {
	var requestedBy string
	c := NewUsersController(nil, &MockErasure{
		RequestErasureFunc: func(_ context.Context, userID int64, by string) (*domain.Workflow, error) {
			requestedBy = by
			return &domain.Workflow{ID: 11, ExternalID: "gdpr-erasure:5", State: "Start", Status: domain.WorkflowStatusNew}, nil
		},
	})

	w := serve(c, as(httptest.NewRequest("POST", "/api/users/5/erasure", nil), admin))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int64(11), gjson.Get(w.Body.String(), "workflowId").Int())
	assert.Equal(t, "root", requestedBy)
}
