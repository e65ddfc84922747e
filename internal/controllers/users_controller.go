package controllers

import (
	"context"
	"net/http"

	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

// UserAdmin is the admin side of auth.Service.
type UserAdmin interface {
	Users(ctx context.Context) ([]domain.User, error)
	User(ctx context.Context, id int64) (*domain.User, error)
	CreateUser(ctx context.Context, username, password string, role domain.Role) (*domain.User, error)
	UpdateAccess(ctx context.Context, id int64, role *domain.Role, enabled *bool) (*domain.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// ErasureRequester starts the erasure of a user's personal data.
type ErasureRequester interface {
	RequestErasure(ctx context.Context, userID int64, requestedBy string) (*domain.Workflow, error)
}

type UsersController struct {
	Users   UserAdmin
	Erasure ErasureRequester
}

func NewUsersController(users UserAdmin, erasure ErasureRequester) *UsersController {
	return &UsersController{Users: users, Erasure: erasure}
}

// handleGetUsers returns all users that are not deleted
func (c *UsersController) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := c.Users.Users(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "get users")
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	util.WriteJSONResponse(w, http.StatusOK, users)
}

func (c *UsersController) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateUserRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "create user")
		return
	}
	role := req.Role
	if role == "" {
		role = domain.RoleUser
	}
	user, err := c.Users.CreateUser(r.Context(), req.Username, req.Password, role)
	if err != nil {
		writeServiceError(w, r, err, "create user")
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, user)
}

func (c *UsersController) handleGetUserById(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := c.Users.User(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "get user")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, user)
}

// handleUpdateUser changes role and/or enabled flag
func (c *UsersController) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, err := util.DecodeJSONBody[models.UpdateUserRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "update user")
		return
	}
	if id == principal(r).UserID && ((req.Enabled != nil && !*req.Enabled) || (req.Role != nil && *req.Role != domain.RoleAdmin)) {
		util.WriteError(w, http.StatusConflict, "admins cannot disable or demote themselves")
		return
	}
	user, err := c.Users.UpdateAccess(r.Context(), id, req.Role, req.Enabled)
	if err != nil {
		writeServiceError(w, r, err, "update user")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, user)
}

func (c *UsersController) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if id == principal(r).UserID {
		util.WriteError(w, http.StatusConflict, "admins cannot delete themselves")
		return
	}
	if err := c.Users.DeleteUser(r.Context(), id); err != nil {
		writeServiceError(w, r, err, "delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEraseUser starts the erasure workflow on behalf of a user
func (c *UsersController) handleEraseUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	wf, err := c.Erasure.RequestErasure(r.Context(), id, principal(r).Username)
	if err != nil {
		writeServiceError(w, r, err, "request erasure")
		return
	}
	util.WriteJSONResponse(w, http.StatusAccepted, erasureResponse(wf))
}

func erasureResponse(wf *domain.Workflow) models.ErasureResponse {
	return models.ErasureResponse{WorkflowID: wf.ID, ExternalID: wf.ExternalID, State: wf.State, Status: wf.Status}
}
