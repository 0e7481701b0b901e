package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/volcanicminds/volcanic-backend/internal/apierror"
	"github.com/volcanicminds/volcanic-backend/internal/auth"
	"github.com/volcanicminds/volcanic-backend/internal/db/models"
	"github.com/volcanicminds/volcanic-backend/internal/repository"
)

// ListUsers returns the users of the current schema.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	users, err := h.Users.List(r.Context(), sc.DB())
	if err != nil {
		log.Printf("users: list: %v", err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "user listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

// GetUser returns one user by id.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateUserRequest struct {
	Name      *string  `json:"name"`
	Roles     []string `json:"roles"`
	Blocked   *bool    `json:"blocked"`
	Confirmed *bool    `json:"confirmed"`
}

// UpdateUser patches account standing and grants. Blocking takes effect on
// the target's next request: subject resolution rejects blocked users.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	user, ok := h.loadUser(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid user payload")
		return
	}
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Roles != nil {
		user.Roles = models.RoleList(req.Roles)
	}
	if req.Blocked != nil {
		user.Blocked = *req.Blocked
	}
	if req.Confirmed != nil {
		user.Confirmed = *req.Confirmed
	}

	if err := h.Users.Update(r.Context(), sc.DB(), user); err != nil {
		log.Printf("users: update %s: %v", user.ID, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "user update failed")
		return
	}
	log.Printf("users: %s updated %s", sc.ActorIdentity(), user.Email)
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) loadUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	id := chi.URLParam(r, "userID")
	user, err := h.Users.GetByID(r.Context(), sc.DB(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.CodeSubjectNotFound, "user not found")
			return nil, false
		}
		log.Printf("users: load %s: %v", id, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "user lookup failed")
		return nil, false
	}
	return user, true
}

// ListTokens returns the API tokens of the current schema.
func (h *Handlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	tokens, err := h.Tokens.List(r.Context(), sc.DB())
	if err != nil {
		log.Printf("tokens: list: %v", err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "token listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens, "count": len(tokens)})
}

type createTokenRequest struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// CreateToken mints a machine credential record. The response carries the
// external id; credentials embedding it are issued out of band.
func (h *Handlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())

	var req createTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid token payload")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	externalID, err := auth.NewExternalID()
	if err != nil {
		log.Printf("tokens: new external id: %v", err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "token creation failed")
		return
	}
	token := &models.APIToken{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Name:       req.Name,
		Roles:      models.RoleList(req.Roles),
		CreatedAt:  time.Now(),
	}
	if err := h.Tokens.Create(r.Context(), sc.DB(), token); err != nil {
		log.Printf("tokens: create %s: %v", req.Name, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "token creation failed")
		return
	}

	log.Printf("tokens: %s created %s", sc.ActorIdentity(), token.Name)
	writeJSON(w, http.StatusCreated, token)
}

type updateTokenRequest struct {
	Name    *string  `json:"name"`
	Roles   []string `json:"roles"`
	Blocked *bool    `json:"blocked"`
}

// UpdateToken patches a machine credential. Blocking takes effect on the
// token's next request.
func (h *Handlers) UpdateToken(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	id := chi.URLParam(r, "tokenID")
	token, err := h.Tokens.GetByID(r.Context(), sc.DB(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.CodeSubjectNotFound, "token not found")
			return
		}
		log.Printf("tokens: load %s: %v", id, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "token lookup failed")
		return
	}

	var req updateTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid token payload")
		return
	}
	if req.Name != nil {
		token.Name = *req.Name
	}
	if req.Roles != nil {
		token.Roles = models.RoleList(req.Roles)
	}
	if req.Blocked != nil {
		token.Blocked = *req.Blocked
	}

	if err := h.Tokens.Update(r.Context(), sc.DB(), token); err != nil {
		log.Printf("tokens: update %s: %v", token.ID, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "token update failed")
		return
	}
	log.Printf("tokens: %s updated %s", sc.ActorIdentity(), token.Name)
	writeJSON(w, http.StatusOK, token)
}
