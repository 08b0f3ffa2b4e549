package types

import "time"

// User represents a customer or administrator account.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. Unique across all users.
	Email string `json:"email" db:"email"`

	// Phone is an optional contact phone number.
	Phone string `json:"phone,omitempty" db:"phone"`

	// Address is an optional shipping/billing address.
	Address string `json:"address,omitempty" db:"address"`

	// Bio is optional free-form text about the user.
	Bio string `json:"bio,omitempty" db:"bio"`

	// IsAdmin grants access to administrative routes
	// (order management, user management).
	IsAdmin bool `json:"is_admin" db:"is_admin"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
