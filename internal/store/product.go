package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/alma-store/apiserver/types"
)

// ProductRepository handles persistence for products. Specifications and
// images are stored as JSONB columns, following the same marshal-on-write
// pattern as the rest of the store.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

const productColumns = `id, name, category, price_number, price_label, stock, sku, description, specifications, images, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (types.Product, error) {
	var product types.Product
	var specsJSON, imagesJSON []byte
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Category,
		&product.PriceNumber,
		&product.PriceLabel,
		&product.Stock,
		&product.SKU,
		&product.Description,
		&specsJSON,
		&imagesJSON,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return types.Product{}, err
	}
	_ = json.Unmarshal(specsJSON, &product.Specifications)
	_ = json.Unmarshal(imagesJSON, &product.Images)
	return product, nil
}

func (r *ProductRepository) List(ctx context.Context) ([]types.Product, error) {
	const query = `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]types.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (r *ProductRepository) Get(ctx context.Context, id int64) (types.Product, error) {
	const query = `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1`
	product, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Product{}, ErrNotFound
		}
		return types.Product{}, err
	}
	return product, nil
}

func (r *ProductRepository) Create(ctx context.Context, product types.Product) (types.Product, error) {
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	specsJSON, imagesJSON, err := marshalProductJSON(product)
	if err != nil {
		return types.Product{}, err
	}

	const query = `
		INSERT INTO products (name, category, price_number, price_label, stock, sku, description, specifications, images, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		product.Name,
		product.Category,
		product.PriceNumber,
		product.PriceLabel,
		product.Stock,
		product.SKU,
		product.Description,
		specsJSON,
		imagesJSON,
		product.CreatedAt,
		product.UpdatedAt,
	).Scan(&product.ID); err != nil {
		return types.Product{}, err
	}
	return product, nil
}

func (r *ProductRepository) Update(ctx context.Context, product types.Product) (types.Product, error) {
	product.UpdatedAt = time.Now()

	specsJSON, imagesJSON, err := marshalProductJSON(product)
	if err != nil {
		return types.Product{}, err
	}

	const query = `
		UPDATE products
		SET name = $1,
			category = $2,
			price_number = $3,
			price_label = $4,
			stock = $5,
			sku = $6,
			description = $7,
			specifications = $8,
			images = $9,
			updated_at = $10
		WHERE id = $11`
	result, err := r.db.ExecContext(
		ctx,
		query,
		product.Name,
		product.Category,
		product.PriceNumber,
		product.PriceLabel,
		product.Stock,
		product.SKU,
		product.Description,
		specsJSON,
		imagesJSON,
		product.UpdatedAt,
		product.ID,
	)
	if err != nil {
		return types.Product{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Product{}, err
	}
	if affected == 0 {
		return types.Product{}, ErrNotFound
	}
	return product, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM products WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalProductJSON(product types.Product) ([]byte, []byte, error) {
	specs := product.Specifications
	if specs == nil {
		specs = map[string]any{}
	}
	images := product.Images
	if images == nil {
		images = []string{}
	}
	specsJSON, err := json.Marshal(specs)
	if err != nil {
		return nil, nil, err
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return nil, nil, err
	}
	return specsJSON, imagesJSON, nil
}
