package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/alma-store/apiserver/internal/services"
	"github.com/alma-store/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
)

// CategoryHandler provides HTTP handlers for categories. Reads are open;
// writes require an admin token. Deleting a category never touches products
// that carry its name.
type CategoryHandler struct {
	catalogService *services.CatalogService
}

func NewCategoryHandler(catalogService *services.CatalogService) *CategoryHandler {
	return &CategoryHandler{catalogService: catalogService}
}

// CategoryRouter registers category routes on the given router.
func CategoryRouter(r chi.Router, catalogService *services.CatalogService, userService *services.UserService) {
	handler := NewCategoryHandler(catalogService)
	admin := RequireAdmin(userService)

	r.Get("/", handler.List)
	r.With(admin).Post("/", handler.Create)
	r.Route("/{categoryID}", func(r chi.Router) {
		r.With(admin).Put("/", handler.Update)
		r.With(admin).Patch("/", handler.Update)
		r.With(admin).Delete("/", handler.Delete)
	})
}

func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalogService.ListCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

type CategoryRequest struct {
	Name string `json:"name"`
}

func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	name, ok := parseCategoryName(w, r)
	if !ok {
		return
	}

	created, err := h.catalogService.CreateCategory(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusUnprocessableEntity, "category already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "categoryID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, ok := parseCategoryName(w, r)
	if !ok {
		return
	}

	updated, err := h.catalogService.UpdateCategory(r.Context(), id, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusUnprocessableEntity, "category already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update category")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "categoryID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.catalogService.DeleteCategory(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseCategoryName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req CategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return "", false
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return "", false
	}
	return name, true
}
