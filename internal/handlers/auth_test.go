package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alma-store/apiserver/internal/services"
	"github.com/alma-store/apiserver/internal/store"
	"github.com/alma-store/apiserver/types"
	"github.com/go-chi/chi/v5"
)

type memoryUserRepo struct {
	users  map[int64]types.User
	nextID int64
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]types.User), nextID: 1}
}

func (r *memoryUserRepo) GetByID(_ context.Context, id int64) (types.User, error) {
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memoryUserRepo) List(_ context.Context) ([]types.User, error) {
	users := make([]types.User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}
	return users, nil
}

func (r *memoryUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	user.ID = r.nextID
	r.nextID++
	r.users[user.ID] = user
	return user, nil
}

func (r *memoryUserRepo) Update(_ context.Context, user types.User) (types.User, error) {
	if _, ok := r.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	r.users[user.ID] = user
	return user, nil
}

type memoryTokenRepo struct {
	tokens map[int64]types.APIToken
	nextID int64
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{tokens: make(map[int64]types.APIToken), nextID: 1}
}

func (r *memoryTokenRepo) Create(_ context.Context, token types.APIToken) (types.APIToken, error) {
	token.ID = r.nextID
	r.nextID++
	r.tokens[token.ID] = token
	return token, nil
}

func (r *memoryTokenRepo) GetActiveByHash(_ context.Context, hash string) (types.APIToken, error) {
	for _, token := range r.tokens {
		if token.TokenHash == hash && !token.Revoked {
			return token, nil
		}
	}
	return types.APIToken{}, store.ErrNotFound
}

func (r *memoryTokenRepo) Revoke(_ context.Context, id int64) error {
	token, ok := r.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	token.Revoked = true
	r.tokens[id] = token
	return nil
}

func newAuthTestRouter() (*chi.Mux, *services.UserService, *memoryUserRepo) {
	users := newMemoryUserRepo()
	userService := services.NewUserService(users, newMemoryTokenRepo())
	router := chi.NewRouter()
	AuthRouter(router, userService)
	return router, userService, users
}

func postJSON(t *testing.T, router http.Handler, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterLoginMeLogoutFlow(t *testing.T) {
	router, _, _ := newAuthTestRouter()

	rec := postJSON(t, router, "/register", `{"name":"Ana","email":"ana@example.com","password":"secret1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body)
	}
	var registered AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&registered); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if registered.Token == "" || registered.User.Email != "ana@example.com" {
		t.Fatalf("unexpected register response: %+v", registered)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}

	rec = postJSON(t, router, "/logout", "", registered.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	// The revoked token no longer resolves.
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("me with revoked token status = %d, want 401", rec.Code)
	}

	rec = postJSON(t, router, "/login", `{"email":"ana@example.com","password":"secret1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	router, _, _ := newAuthTestRouter()

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"email":"a@example.com","password":"secret1"}`},
		{"bad email", `{"name":"Ana","email":"nope","password":"secret1"}`},
		{"short password", `{"name":"Ana","email":"a@example.com","password":"abc"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, router, "/register", tc.body, "")
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", rec.Code)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	router, _, _ := newAuthTestRouter()

	body := `{"name":"Ana","email":"ana@example.com","password":"secret1"}`
	if rec := postJSON(t, router, "/register", body, ""); rec.Code != http.StatusOK {
		t.Fatalf("first register status = %d", rec.Code)
	}
	rec := postJSON(t, router, "/register", body, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate register status = %d, want 422", rec.Code)
	}
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	users := newMemoryUserRepo()
	userService := services.NewUserService(users, newMemoryTokenRepo())

	router := chi.NewRouter()
	AuthRouter(router, userService)
	router.With(RequireAdmin(userService)).Get("/admin-only", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	rec := postJSON(t, router, "/register", `{"name":"Ana","email":"ana@example.com","password":"secret1"}`, "")
	var registered AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&registered); err != nil {
		t.Fatalf("decode register response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("non-admin status = %d, want 401", rec2.Code)
	}

	// Promote and retry.
	user := users.users[registered.User.ID]
	user.IsAdmin = true
	users.users[user.ID] = user

	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req)
	if rec3.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", rec3.Code)
	}
}

func TestOptionalAuthAllowsAnonymous(t *testing.T) {
	users := newMemoryUserRepo()
	userService := services.NewUserService(users, newMemoryTokenRepo())

	router := chi.NewRouter()
	router.With(OptionalAuth(userService)).Get("/open", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := userFromContext(r.Context()); ok {
			writeJSON(w, http.StatusOK, map[string]string{"who": "user"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"who": "guest"})
	})

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "guest") {
		t.Fatalf("anonymous request rejected: %d %s", rec.Code, rec.Body)
	}
}
