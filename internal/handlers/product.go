package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/alma-store/apiserver/internal/services"
	"github.com/alma-store/apiserver/internal/store"
	"github.com/alma-store/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory = 32 << 20
	formFieldImages    = "images"
)

// ProductHandler provides HTTP handlers for the product catalog. Reads are
// open; writes require an admin token. Create and update accept either a
// JSON body or a multipart form carrying image files.
type ProductHandler struct {
	catalogService *services.CatalogService
}

func NewProductHandler(catalogService *services.CatalogService) *ProductHandler {
	return &ProductHandler{catalogService: catalogService}
}

// ProductRouter registers product routes on the given router.
func ProductRouter(r chi.Router, catalogService *services.CatalogService, userService *services.UserService) {
	handler := NewProductHandler(catalogService)
	admin := RequireAdmin(userService)

	r.Get("/", handler.List)
	r.With(admin).Post("/", handler.Create)
	r.Route("/{productID}", func(r chi.Router) {
		r.Get("/", handler.Get)
		r.With(admin).Put("/", handler.Update)
		r.With(admin).Patch("/", handler.Update)
		r.With(admin).Delete("/", handler.Delete)
	})
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalogService.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	product, err := h.catalogService.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch product")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, uploads, err := parseProductForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	if req.PriceNumber == nil {
		writeError(w, http.StatusUnprocessableEntity, "price_number is required")
		return
	}

	product := types.Product{
		Name:           strings.TrimSpace(*req.Name),
		PriceNumber:    *req.PriceNumber,
		Specifications: req.Specifications,
		Images:         req.Images,
	}
	if req.Category != nil {
		product.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceLabel != nil {
		product.PriceLabel = *req.PriceLabel
	}
	if req.Stock != nil {
		product.Stock = *req.Stock
	}
	if req.SKU != nil {
		product.SKU = *req.SKU
	}
	if req.Description != nil {
		product.Description = *req.Description
	}

	created, err := h.catalogService.CreateProduct(r.Context(), product, uploads)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, uploads, err := parseProductForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "name cannot be empty")
		return
	}

	updated, err := h.catalogService.UpdateProduct(r.Context(), id, services.ProductUpdate{
		Name:           req.Name,
		Category:       req.Category,
		PriceNumber:    req.PriceNumber,
		PriceLabel:     req.PriceLabel,
		Stock:          req.Stock,
		SKU:            req.SKU,
		Description:    req.Description,
		Specifications: req.Specifications,
		Images:         req.Images,
	}, uploads)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.catalogService.DeleteProduct(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProductUpsertRequest represents the parsed product payload. Nil pointers
// mean the field was absent; on update those fields stay untouched.
type ProductUpsertRequest struct {
	Name           *string
	Category       *string
	PriceNumber    *float64
	PriceLabel     *string
	Stock          *int
	SKU            *string
	Description    *string
	Specifications map[string]any
	Images         []string
}

// parseProductForm accepts a JSON body or a multipart form. Multipart image
// file parts arrive under "images" (or "images[]"); string entries in the
// images field are treated as existing references.
func parseProductForm(r *http.Request) (ProductUpsertRequest, []services.ImageUpload, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return parseProductMultipart(r)
	}

	var body struct {
		Name           *string         `json:"name"`
		Category       *string         `json:"category"`
		PriceNumber    *float64        `json:"price_number"`
		Price          *float64        `json:"price"`
		PriceLabel     *string         `json:"price_label"`
		Stock          *int            `json:"stock"`
		SKU            *string         `json:"sku"`
		Description    *string         `json:"description"`
		Specifications map[string]any  `json:"specifications"`
		Images         json.RawMessage `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ProductUpsertRequest{}, nil, errors.New("invalid request")
	}

	req := ProductUpsertRequest{
		Name:           body.Name,
		Category:       body.Category,
		PriceNumber:    body.PriceNumber,
		PriceLabel:     body.PriceLabel,
		Stock:          body.Stock,
		SKU:            body.SKU,
		Description:    body.Description,
		Specifications: body.Specifications,
	}
	if req.PriceNumber == nil {
		req.PriceNumber = body.Price
	}
	if len(body.Images) > 0 {
		req.Images = parseImageRefs(body.Images)
	}
	return req, nil, nil
}

func parseProductMultipart(r *http.Request) (ProductUpsertRequest, []services.ImageUpload, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return ProductUpsertRequest{}, nil, errors.New("invalid multipart form")
	}

	var req ProductUpsertRequest
	if value, ok := formString(r, "name"); ok {
		req.Name = &value
	}
	if value, ok := formString(r, "category"); ok {
		req.Category = &value
	}
	if value, ok := formString(r, "price_label"); ok {
		req.PriceLabel = &value
	}
	if value, ok := formString(r, "sku"); ok {
		req.SKU = &value
	}
	if value, ok := formString(r, "description"); ok {
		req.Description = &value
	}

	if raw, ok := formString(r, "price_number"); ok {
		price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return ProductUpsertRequest{}, nil, errors.New("invalid price_number")
		}
		req.PriceNumber = &price
	} else if raw, ok := formString(r, "price"); ok {
		price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return ProductUpsertRequest{}, nil, errors.New("invalid price")
		}
		req.PriceNumber = &price
	}
	if raw, ok := formString(r, "stock"); ok {
		stock, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return ProductUpsertRequest{}, nil, errors.New("invalid stock")
		}
		req.Stock = &stock
	}
	if raw, ok := formString(r, "specifications"); ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &req.Specifications); err != nil {
			return ProductUpsertRequest{}, nil, errors.New("invalid specifications")
		}
	}

	req.Images = append(req.Images, formValues(r, formFieldImages)...)

	uploads := make([]services.ImageUpload, 0)
	for _, header := range formFiles(r, formFieldImages) {
		file, err := header.Open()
		if err != nil {
			return ProductUpsertRequest{}, nil, errors.New("invalid image upload")
		}
		uploads = append(uploads, services.ImageUpload{
			Filename: header.Filename,
			Reader:   file,
			Size:     header.Size,
		})
	}
	return req, uploads, nil
}

// parseImageRefs tolerates frontends sending either a JSON array or a single
// string; non-string array entries are dropped.
func parseImageRefs(raw json.RawMessage) []string {
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		refs := make([]string, 0, len(list))
		for _, entry := range list {
			if s, ok := entry.(string); ok {
				refs = append(refs, s)
			}
		}
		return refs
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func formString(r *http.Request, name string) (string, bool) {
	if r.MultipartForm == nil {
		return "", false
	}
	values, ok := r.MultipartForm.Value[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func formValues(r *http.Request, name string) []string {
	if r.MultipartForm == nil {
		return nil
	}
	values := r.MultipartForm.Value[name]
	values = append(values, r.MultipartForm.Value[name+"[]"]...)
	return values
}

func formFiles(r *http.Request, name string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	files := r.MultipartForm.File[name]
	files = append(files, r.MultipartForm.File[name+"[]"]...)
	return files
}
