package services

import (
	"context"
	"io"

	"github.com/alma-store/apiserver/types"
)

// ProductRepository defines persistence operations for products.
type ProductRepository interface {
	List(ctx context.Context) ([]types.Product, error)
	Get(ctx context.Context, id int64) (types.Product, error)
	Create(ctx context.Context, product types.Product) (types.Product, error)
	Update(ctx context.Context, product types.Product) (types.Product, error)
	Delete(ctx context.Context, id int64) error
}

// CategoryRepository defines persistence operations for categories.
type CategoryRepository interface {
	List(ctx context.Context) ([]types.Category, error)
	Get(ctx context.Context, id int64) (types.Category, error)
	Create(ctx context.Context, category types.Category) (types.Category, error)
	Update(ctx context.Context, category types.Category) (types.Category, error)
	Delete(ctx context.Context, id int64) error
}

// ImageStore persists uploaded image binaries and returns stable references.
type ImageStore interface {
	StoreImage(ctx context.Context, filename string, r io.Reader, size int64) (string, error)
}

// CatalogService encapsulates product and category use-cases.
type CatalogService struct {
	products   ProductRepository
	categories CategoryRepository
	images     ImageStore
}

func NewCatalogService(products ProductRepository, categories CategoryRepository, images ImageStore) *CatalogService {
	return &CatalogService{products: products, categories: categories, images: images}
}

// ImageUpload is one uploaded image binary.
type ImageUpload struct {
	Filename string
	Reader   io.Reader
	Size     int64
}

// ProductUpdate carries optional product fields; nil pointers leave the
// current value untouched. Images and uploads are merged into the existing
// list rather than replacing it.
type ProductUpdate struct {
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

func (s *CatalogService) ListProducts(ctx context.Context) ([]types.Product, error) {
	return s.products.List(ctx)
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (types.Product, error) {
	return s.products.Get(ctx, id)
}

// CreateProduct stores any uploaded image binaries, merges their references
// with the supplied ones, and persists the product. An empty category falls
// back to the default.
func (s *CatalogService) CreateProduct(ctx context.Context, product types.Product, uploads []ImageUpload) (types.Product, error) {
	if product.Category == "" {
		product.Category = types.DefaultCategory
	}

	stored, err := s.storeUploads(ctx, uploads)
	if err != nil {
		return types.Product{}, err
	}
	product.Images = MergeImageRefs(product.Images, stored)

	return s.products.Create(ctx, product)
}

// UpdateProduct applies a partial update. The resulting image list merges
// the previous references, newly supplied references, and stored uploads,
// de-duplicated in first-seen order.
func (s *CatalogService) UpdateProduct(ctx context.Context, id int64, update ProductUpdate, uploads []ImageUpload) (types.Product, error) {
	product, err := s.products.Get(ctx, id)
	if err != nil {
		return types.Product{}, err
	}

	if update.Name != nil {
		product.Name = *update.Name
	}
	if update.Category != nil {
		product.Category = *update.Category
		if product.Category == "" {
			product.Category = types.DefaultCategory
		}
	}
	if update.PriceNumber != nil {
		product.PriceNumber = *update.PriceNumber
	}
	if update.PriceLabel != nil {
		product.PriceLabel = *update.PriceLabel
	}
	if update.Stock != nil {
		product.Stock = *update.Stock
	}
	if update.SKU != nil {
		product.SKU = *update.SKU
	}
	if update.Description != nil {
		product.Description = *update.Description
	}
	if update.Specifications != nil {
		product.Specifications = update.Specifications
	}

	stored, err := s.storeUploads(ctx, uploads)
	if err != nil {
		return types.Product{}, err
	}
	product.Images = MergeImageRefs(product.Images, update.Images, stored)

	return s.products.Update(ctx, product)
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	return s.products.Delete(ctx, id)
}

func (s *CatalogService) storeUploads(ctx context.Context, uploads []ImageUpload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		key, err := s.images.StoreImage(ctx, upload.Filename, upload.Reader, upload.Size)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// MergeImageRefs concatenates image reference lists, dropping empty entries
// and duplicates while preserving first-seen order.
func MergeImageRefs(lists ...[]string) []string {
	merged := make([]string, 0)
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, ref := range list {
			if ref == "" {
				continue
			}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			merged = append(merged, ref)
		}
	}
	return merged
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]types.Category, error) {
	return s.categories.List(ctx)
}

func (s *CatalogService) CreateCategory(ctx context.Context, name string) (types.Category, error) {
	return s.categories.Create(ctx, types.Category{Name: name})
}

func (s *CatalogService) UpdateCategory(ctx context.Context, id int64, name string) (types.Category, error) {
	category, err := s.categories.Get(ctx, id)
	if err != nil {
		return types.Category{}, err
	}
	category.Name = name
	return s.categories.Update(ctx, category)
}

func (s *CatalogService) DeleteCategory(ctx context.Context, id int64) error {
	return s.categories.Delete(ctx, id)
}
