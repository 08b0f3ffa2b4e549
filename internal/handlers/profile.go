package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/alma-store/apiserver/internal/services"
	"github.com/alma-store/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
)

// ProfileHandler lets an authenticated user read and update their own
// profile.
type ProfileHandler struct {
	userService *services.UserService
}

func NewProfileHandler(userService *services.UserService) *ProfileHandler {
	return &ProfileHandler{userService: userService}
}

// ProfileRouter registers profile routes on the given router.
func ProfileRouter(r chi.Router, userService *services.UserService) {
	handler := NewProfileHandler(userService)
	auth := RequireAuth(userService)

	r.With(auth).Get("/profile", handler.Show)
	r.With(auth).Put("/profile", handler.Update)
}

func (h *ProfileHandler) Show(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type ProfileUpdateRequest struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
	Bio     *string `json:"bio"`
}

func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "name cannot be empty")
		return
	}
	if req.Email != nil {
		trimmed := strings.TrimSpace(*req.Email)
		if _, err := mail.ParseAddress(trimmed); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid email")
			return
		}
		req.Email = &trimmed
	}

	updated, err := h.userService.UpdateProfile(r.Context(), user.ID, services.ProfileUpdate{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
		Bio:     req.Bio,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusUnprocessableEntity, "email already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
