package types

import (
	"encoding/json"
	"time"
)

// Order statuses assigned by checkout and reconciliation. Administrators may
// additionally set a free-form status string via the admin update route; such
// values are stored as-is and are not validated against this set.
const (
	StatusPendingPayment = "pending_payment"
	StatusPaid           = "paid"
	StatusRejected       = "rejected"
	StatusFailed         = "failed"
)

// Order represents a checkout attempt and its payment outcome.
//
// Item and total fields are immutable after creation; reconciliation only
// ever touches Status, EpaycoRef and EpaycoInvoice.
type Order struct {
	// ID is the unique identifier of the order.
	ID int64 `json:"id" db:"id"`

	// UserID is the identifier of the owning user. Nil for guest checkout.
	UserID *int64 `json:"user_id" db:"user_id"`

	// Items is the opaque item list captured at checkout. The backend does
	// not interpret it; it is stored and echoed back verbatim.
	Items json.RawMessage `json:"items" db:"items"`

	// Subtotal is the pre-tax total in minor currency units.
	Subtotal int64 `json:"subtotal" db:"subtotal"`

	// Taxes is the tax amount in minor currency units.
	Taxes int64 `json:"taxes" db:"taxes"`

	// Total is the grand total in minor currency units.
	Total int64 `json:"total" db:"total"`

	// Status is the current payment status. One of the Status* constants,
	// or an admin-assigned free-form string.
	Status string `json:"status" db:"status"`

	// EpaycoRef is the gateway reference returned at session creation.
	// It is the primary correlation key for webhook and poll reconciliation.
	EpaycoRef string `json:"epayco_ref,omitempty" db:"epayco_ref"`

	// EpaycoInvoice is the gateway invoice/transaction id. It is the
	// secondary correlation key, consulted when the reference misses.
	EpaycoInvoice string `json:"epayco_invoice,omitempty" db:"epayco_invoice"`

	// CreatedAt is the timestamp when the order was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the order.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
