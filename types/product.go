package types

import "time"

// Product represents an item in the catalog.
type Product struct {
	// ID is the unique identifier of the product.
	ID int64 `json:"id" db:"id"`

	// Name is the display name of the product.
	Name string `json:"name" db:"name"`

	// Category is a free-standing category name. It references Category.Name
	// by value only; no foreign key is enforced and deleting a category does
	// not touch products carrying its name.
	Category string `json:"category" db:"category"`

	// PriceNumber is the numeric price used for computations.
	PriceNumber float64 `json:"price_number" db:"price_number"`

	// PriceLabel is an optional display label for the price
	// (e.g. "$1.200.000 COP").
	PriceLabel string `json:"price_label,omitempty" db:"price_label"`

	// Stock is the available unit count.
	Stock int `json:"stock" db:"stock"`

	// SKU is an optional stock keeping unit code.
	SKU string `json:"sku,omitempty" db:"sku"`

	// Description is free-form text describing the product.
	Description string `json:"description,omitempty" db:"description"`

	// Specifications is an arbitrary key-value mapping of product attributes.
	Specifications map[string]any `json:"specifications,omitempty" db:"specifications"`

	// Images is the ordered list of image references (object-storage keys or
	// external URLs). Duplicates and empty entries are filtered out at write
	// time, preserving first-seen order.
	Images []string `json:"images" db:"images"`

	// CreatedAt is the timestamp when the product was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the product.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultCategory is assigned when a product is created or updated with an
// empty category.
const DefaultCategory = "General"

// Category is a free-standing name used to group products. There are no
// cascade rules: products reference categories by name only.
type Category struct {
	// ID is the unique identifier of the category.
	ID int64 `json:"id" db:"id"`

	// Name is the unique, case-sensitive category name.
	Name string `json:"name" db:"name"`

	// CreatedAt is the timestamp when the category was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the category.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
