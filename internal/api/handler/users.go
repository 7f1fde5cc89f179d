package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/user"
)

// UserHandler handles directory endpoints.
type UserHandler struct {
	base
	users *user.Service
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users *user.Service, logger zerolog.Logger) *UserHandler {
	return &UserHandler{base: base{logger: logger}, users: users}
}

// Me handles GET /api/v1/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, actor(r).ID)
}

// List handles GET /api/v1/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	lq, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := h.users.List(r.Context(), user.ListOptions{
		Role:   user.Role(q.Get("role")),
		Status: user.Status(q.Get("status")),
		Search: lq.Search,
		Page:   lq.Page,
		Size:   lq.Size,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// ByRole handles GET /api/v1/users/role/{role}.
func (h *UserHandler) ByRole(w http.ResponseWriter, r *http.Request) {
	role := user.Role(idParam(r, "role"))
	if !role.Valid() {
		response.BadRequest(w, r, "invalid role", []models.FieldError{{Field: "role", Message: "is not a known role"}})
		return
	}
	users, err := h.users.ListByRoles(r.Context(), role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, users)
}

// Get handles GET /api/v1/users/{userID}. Accounts outside management may
// only read themselves.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := idParam(r, "userID")
	if !isManagement(r) && id != actor(r).ID {
		response.Forbidden(w, r, "you can only view your own profile")
		return
	}
	h.get(w, r, id)
}

func (h *UserHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, u)
}

// Create handles POST /api/v1/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input user.CreateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	u, err := h.users.Create(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, r, "/api/v1/users/"+u.ID, u)
}

// SetStatus handles PATCH /api/v1/users/{userID}/status.
func (h *UserHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusChangeRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	id := idParam(r, "userID")
	if id == actor(r).ID {
		response.BadRequest(w, r, "you cannot change your own status", nil)
		return
	}
	u, err := h.users.SetStatus(r.Context(), id, user.Status(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, u)
}

// Update handles PUT /api/v1/users/{userID}. Accounts outside management
// may only update their own profile and never their status.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input user.UpdateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	id := idParam(r, "userID")
	if !isManagement(r) {
		if id != actor(r).ID {
			response.Forbidden(w, r, "you can only update your own profile")
			return
		}
		if input.Status != nil {
			response.Forbidden(w, r, "you cannot change account status")
			return
		}
	}
	u, err := h.users.Update(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, u)
}

// Delete handles DELETE /api/v1/users/{userID}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := idParam(r, "userID")
	if id == actor(r).ID {
		response.BadRequest(w, r, "you cannot delete your own account", nil)
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	response.NoContent(w, r)
}
