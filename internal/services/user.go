package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/alma-store/apiserver/internal/store"
	"github.com/alma-store/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when login email/password do not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// tokenSecretBytes sizes the random token secret. 32 bytes hex-encode to
// 64 characters, comfortably above the 40-character issuance floor.
const tokenSecretBytes = 32

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// TokenRepository defines persistence operations for API tokens.
type TokenRepository interface {
	Create(ctx context.Context, token types.APIToken) (types.APIToken, error)
	GetActiveByHash(ctx context.Context, hash string) (types.APIToken, error)
	Revoke(ctx context.Context, id int64) error
}

// UserService encapsulates registration, login, bearer-token identity
// resolution and profile management.
type UserService struct {
	users  UserRepository
	tokens TokenRepository
}

func NewUserService(users UserRepository, tokens TokenRepository) *UserService {
	return &UserService{users: users, tokens: tokens}
}

// TokenDigest computes the stored digest of a plaintext token secret.
// Tokens are only ever looked up by this digest; the plaintext is returned
// to the client once at issuance and never persisted.
func TokenDigest(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// Register creates an account and issues a fresh token.
func (s *UserService) Register(ctx context.Context, user types.User, password string) (types.User, string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, "", err
	}
	user.PasswordHash = string(hashed)

	created, err := s.users.Create(ctx, user)
	if err != nil {
		return types.User{}, "", err
	}

	plain, err := s.issueToken(ctx, created.ID)
	if err != nil {
		return types.User{}, "", err
	}
	return created, plain, nil
}

// Login verifies credentials and issues a fresh token. Each login mints a
// new token; previously issued tokens stay live until revoked.
func (s *UserService) Login(ctx context.Context, email, password string) (types.User, string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, "", ErrInvalidCredentials
		}
		return types.User{}, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, "", ErrInvalidCredentials
	}

	plain, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return types.User{}, "", err
	}
	return user, plain, nil
}

// ResolveToken maps a presented plaintext secret to its owning user.
// Returns store.ErrNotFound for unknown or revoked tokens.
func (s *UserService) ResolveToken(ctx context.Context, plain string) (types.User, error) {
	token, err := s.tokens.GetActiveByHash(ctx, TokenDigest(plain))
	if err != nil {
		return types.User{}, err
	}
	return s.users.GetByID(ctx, token.UserID)
}

// Logout revokes the presented token. Revocation is sticky.
func (s *UserService) Logout(ctx context.Context, plain string) error {
	token, err := s.tokens.GetActiveByHash(ctx, TokenDigest(plain))
	if err != nil {
		return err
	}
	return s.tokens.Revoke(ctx, token.ID)
}

func (s *UserService) issueToken(ctx context.Context, userID int64) (string, error) {
	var buf [tokenSecretBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	plain := hex.EncodeToString(buf[:])

	_, err := s.tokens.Create(ctx, types.APIToken{
		UserID:    userID,
		TokenHash: TokenDigest(plain),
	})
	if err != nil {
		return "", err
	}
	return plain, nil
}

// ProfileUpdate carries the optional profile fields; nil pointers leave the
// current value untouched.
type ProfileUpdate struct {
	Name    *string
	Email   *string
	Phone   *string
	Address *string
	Bio     *string
}

// UpdateProfile applies a partial update to the user's own profile.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, update ProfileUpdate) (types.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, err
	}
	if update.Name != nil {
		user.Name = *update.Name
	}
	if update.Email != nil {
		user.Email = *update.Email
	}
	if update.Phone != nil {
		user.Phone = *update.Phone
	}
	if update.Address != nil {
		user.Address = *update.Address
	}
	if update.Bio != nil {
		user.Bio = *update.Bio
	}
	return s.users.Update(ctx, user)
}

// SetAdmin toggles the admin flag on a user.
func (s *UserService) SetAdmin(ctx context.Context, userID int64, isAdmin bool) (types.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, err
	}
	user.IsAdmin = isAdmin
	return s.users.Update(ctx, user)
}

func (s *UserService) GetByID(ctx context.Context, id int64) (types.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	return s.users.List(ctx)
}
