package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alma-store/apiserver/types"
)

// TokenRepository handles persistence for API tokens. Tokens are stored
// as SHA-256 digests only and are looked up strictly by digest; revoked
// tokens are flagged, never deleted.
type TokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, token types.APIToken) (types.APIToken, error) {
	token.CreatedAt = time.Now()

	const query = `
		INSERT INTO api_tokens (user_id, token_hash, revoked, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		token.UserID,
		token.TokenHash,
		token.Revoked,
		token.CreatedAt,
	).Scan(&token.ID); err != nil {
		if isUniqueViolation(err) {
			return types.APIToken{}, ErrConflict
		}
		return types.APIToken{}, err
	}
	return token, nil
}

// GetActiveByHash returns the non-revoked token matching the given digest.
func (r *TokenRepository) GetActiveByHash(ctx context.Context, hash string) (types.APIToken, error) {
	const query = `
		SELECT id, user_id, token_hash, revoked, created_at
		FROM api_tokens
		WHERE token_hash = $1 AND revoked = FALSE`
	var token types.APIToken
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.Revoked,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.APIToken{}, ErrNotFound
		}
		return types.APIToken{}, err
	}
	return token, nil
}

// Revoke flags the token dead. Revocation is sticky; there is no un-revoke.
func (r *TokenRepository) Revoke(ctx context.Context, id int64) error {
	const query = `UPDATE api_tokens SET revoked = TRUE WHERE id = $1`
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
