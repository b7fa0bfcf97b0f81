package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderlustcms/api/internal/account"
	"github.com/wanderlustcms/api/internal/article"
	"github.com/wanderlustcms/api/internal/auth"
	"github.com/wanderlustcms/api/internal/cache"
	"github.com/wanderlustcms/api/internal/clock"
	"github.com/wanderlustcms/api/internal/config"
	apperrors "github.com/wanderlustcms/api/internal/errors"
	"github.com/wanderlustcms/api/internal/health"
	"github.com/wanderlustcms/api/internal/web/middleware"
	"github.com/wanderlustcms/api/internal/web/response"
)

// fakeAccountStore keeps accounts in memory and doubles as the session
// store, mirroring how the real repository stores the refresh token on
// the user row. Create enforces email/username uniqueness the way the
// database constraint does; beforeCreate, when set, runs just before
// the insert so tests can interleave a conflicting write.
type fakeAccountStore struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*account.User
	beforeCreate func()
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{users: make(map[uuid.UUID]*account.User)}
}

func (s *fakeAccountStore) Create(_ context.Context, user *account.User) error {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email || existing.Username == user.Username {
			return apperrors.DuplicateEntityError("Email or username is already taken", nil)
		}
	}
	clone := *user
	s.users[user.ID] = &clone
	return nil
}

func (s *fakeAccountStore) GetByID(_ context.Context, id uuid.UUID) (*account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, account.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *fakeAccountStore) GetByEmail(_ context.Context, email string) (*account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, account.ErrUserNotFound
}

func (s *fakeAccountStore) GetByRefreshToken(_ context.Context, token string) (*account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.RefreshToken != "" && user.RefreshToken == token {
			clone := *user
			return &clone, nil
		}
	}
	return nil, account.ErrUserNotFound
}

func (s *fakeAccountStore) UpdateProfile(_ context.Context, id uuid.UUID, displayName, bio, avatarURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return account.ErrUserNotFound
	}
	user.DisplayName = displayName
	user.Bio = bio
	user.AvatarURL = avatarURL
	return nil
}

func (s *fakeAccountStore) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return account.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	user.RefreshToken = ""
	user.RefreshTokenExpiry = time.Time{}
	return nil
}

func (s *fakeAccountStore) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		user.LastLoginAt = at
	}
	return nil
}

func (s *fakeAccountStore) ExistsByEmailOrUsername(_ context.Context, email, username string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var emailTaken, usernameTaken bool
	for _, user := range s.users {
		if user.Email == email {
			emailTaken = true
		}
		if user.Username == username {
			usernameTaken = true
		}
	}
	return emailTaken, usernameTaken, nil
}

func (s *fakeAccountStore) SaveRefreshToken(_ context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[accountID]
	if !ok {
		return account.ErrUserNotFound
	}
	user.RefreshToken = token
	user.RefreshTokenExpiry = expiresAt
	return nil
}

func (s *fakeAccountStore) ClearRefreshToken(_ context.Context, accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[accountID]; ok {
		user.RefreshToken = ""
		user.RefreshTokenExpiry = time.Time{}
	}
	return nil
}

type fakeArticleStore struct {
	mu       sync.Mutex
	articles map[uuid.UUID]*article.Article
}

func newFakeArticleStore() *fakeArticleStore {
	return &fakeArticleStore{articles: make(map[uuid.UUID]*article.Article)}
}

func (s *fakeArticleStore) List(_ context.Context, limit, offset int) ([]*article.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var published []*article.Article
	for _, a := range s.articles {
		if a.Published {
			clone := *a
			published = append(published, &clone)
		}
	}
	sort.Slice(published, func(i, j int) bool {
		return published[i].CreatedAt.After(published[j].CreatedAt)
	})
	if offset >= len(published) {
		return []*article.Article{}, nil
	}
	end := offset + limit
	if end > len(published) {
		end = len(published)
	}
	return published[offset:end], nil
}

func (s *fakeArticleStore) GetBySlug(_ context.Context, slug string) (*article.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.articles {
		if a.Slug == slug {
			clone := *a
			return &clone, nil
		}
	}
	return nil, article.ErrArticleNotFound
}

func (s *fakeArticleStore) Create(_ context.Context, a *article.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	s.articles[a.ID] = &clone
	return nil
}

func (s *fakeArticleStore) Update(_ context.Context, a *article.Article, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.articles[a.ID]
	if !ok {
		return article.ErrArticleNotFound
	}
	*stored = *a
	stored.UpdatedAt = updatedAt
	return nil
}

func (s *fakeArticleStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[id]; !ok {
		return article.ErrArticleNotFound
	}
	delete(s.articles, id)
	return nil
}

type testEnv struct {
	router   http.Handler
	accounts *fakeAccountStore
	articles *fakeArticleStore
	clk      *clock.Fake
}

func newTestEnv(t *testing.T, rateLimited bool) *testEnv {
	t.Helper()

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.Default()
	writer := &response.Writer{Logger: logger}

	cfg := config.Config{}
	cfg.Server.Environment = config.EnvTesting
	cfg.RateLimit.Enabled = rateLimited

	jwtCfg := config.JWT{
		Secret:             "test-secret-key-that-is-long-enough!",
		Issuer:             "WanderlustApi",
		Audience:           "WanderlustClient",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
	}
	issuer, err := auth.NewIssuer(jwtCfg, clk)
	require.NoError(t, err)

	accounts := newFakeAccountStore()
	articles := newFakeArticleStore()
	sessions := auth.NewSessionManager(issuer, accounts, jwtCfg.RefreshTokenExpiry, clk)

	store := cache.NewMemoryStore(clk)
	t.Cleanup(func() { store.Close() })
	limiter := middleware.NewRateLimiter(store, clk, middleware.DefaultTiers(), middleware.DefaultFallbackTier())

	router := NewRouter(RouterDeps{
		Config:  cfg,
		Writer:  writer,
		Issuer:  issuer,
		Limiter: limiter,
		Auth:    NewAuthHandler(accounts, auth.NewPasswordHasher(), sessions, writer, clk, logger),
		Article: NewArticleHandler(articles, writer, clk, logger),
		Health:  NewHealthHandler(health.NewChecker(nil, store, logger), writer),
		Logger:  logger,
	})

	return &testEnv{router: router, accounts: accounts, articles: articles, clk: clk}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID  string `json:"requestId"`
	StatusCode int    `json:"statusCode"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

type sessionData struct {
	User    userResponse `json:"user"`
	Session auth.Session `json:"session"`
}

func (e *testEnv) register(t *testing.T, username, email, password string) sessionData {
	t.Helper()
	rec, env := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":    username,
		"email":       email,
		"password":    password,
		"displayName": username,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var data sessionData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

func TestAuthLifecycle(t *testing.T) {
	e := newTestEnv(t, false)

	registered := e.register(t, "alice", "alice@example.com", "correct-horse-9")
	require.NotEmpty(t, registered.Session.AccessToken)
	require.NotEmpty(t, registered.Session.RefreshToken)
	assert.Equal(t, "member", registered.User.Role)

	t.Run("duplicate registration rejected", func(t *testing.T) {
		rec, env := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"username":    "alice2",
			"email":       "alice@example.com",
			"password":    "correct-horse-9",
			"displayName": "Alice Again",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "DUPLICATE_ENTITY", env.Error.Code)
	})

	t.Run("login rotates the session", func(t *testing.T) {
		rec, env := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "correct-horse-9",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var data sessionData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.NotEqual(t, registered.Session.RefreshToken, data.Session.RefreshToken)

		// The refresh token issued at registration died on rotation.
		rec, env = e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]string{
			"refreshToken": registered.Session.RefreshToken,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, env.Success)

		registered = data
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		_, wrongPassword := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "not-her-password",
		})
		_, unknownEmail := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "nobody@example.com",
			"password": "not-her-password",
		})
		assert.Equal(t, wrongPassword.Error.Code, unknownEmail.Error.Code)
		assert.Equal(t, wrongPassword.Message, unknownEmail.Message)
	})

	t.Run("me requires and honors the access token", func(t *testing.T) {
		rec, _ := e.do(t, http.MethodGet, "/api/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec, env := e.do(t, http.MethodGet, "/api/auth/me", registered.Session.AccessToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var me userResponse
		require.NoError(t, json.Unmarshal(env.Data, &me))
		assert.Equal(t, "alice", me.Username)
	})

	t.Run("refresh exchange rotates and invalidates", func(t *testing.T) {
		rec, env := e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]string{
			"refreshToken": registered.Session.RefreshToken,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var data struct {
			Session auth.Session `json:"session"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		require.NotEmpty(t, data.Session.RefreshToken)

		rec, _ = e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]string{
			"refreshToken": registered.Session.RefreshToken,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		registered.Session = data.Session
	})

	t.Run("expired refresh token fails closed", func(t *testing.T) {
		e.clk.Advance(8 * 24 * time.Hour)
		rec, _ := e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]string{
			"refreshToken": registered.Session.RefreshToken,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		// Re-login for the remaining subtests; the old access token
		// also aged out with the clock jump.
		rec, env := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "correct-horse-9",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var data sessionData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		registered = data
	})

	t.Run("logout clears the refresh token but not the access token", func(t *testing.T) {
		rec, _ := e.do(t, http.MethodPost, "/api/auth/logout", registered.Session.AccessToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec, _ = e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]string{
			"refreshToken": registered.Session.RefreshToken,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		// Access tokens are self-contained and live out their lifetime.
		rec, _ = e.do(t, http.MethodGet, "/api/auth/me", registered.Session.AccessToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("change password revokes the session", func(t *testing.T) {
		rec, env := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "correct-horse-9",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var data sessionData
		require.NoError(t, json.Unmarshal(env.Data, &data))

		rec, _ = e.do(t, http.MethodPost, "/api/auth/change-password", data.Session.AccessToken, map[string]string{
			"currentPassword": "correct-horse-9",
			"newPassword":     "battery-staple-7",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, _ = e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]string{
			"refreshToken": data.Session.RefreshToken,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec, _ = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "battery-staple-7",
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec, _ = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "correct-horse-9",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeactivatedAccountCannotLogin(t *testing.T) {
	e := newTestEnv(t, false)
	registered := e.register(t, "bob", "bob@example.com", "some-password-1")

	e.accounts.mu.Lock()
	e.accounts.users[registered.User.ID].IsActive = false
	e.accounts.mu.Unlock()

	rec, env := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "bob@example.com",
		"password": "some-password-1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCOUNT_DISABLED", env.Error.Code)
}

func TestConcurrentRegistrationConflict(t *testing.T) {
	e := newTestEnv(t, false)

	// A rival registration for the same email commits between this
	// request's uniqueness pre-check and its insert. The constraint
	// violation must surface as a conflict, not a server error.
	e.accounts.beforeCreate = func() {
		e.accounts.beforeCreate = nil
		require.NoError(t, e.accounts.Create(context.Background(), &account.User{
			ID:       uuid.New(),
			Username: "dave",
			Email:    "dave@example.com",
		}))
	}

	rec, env := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":    "dave",
		"email":       "dave@example.com",
		"password":    "correct-horse-9",
		"displayName": "Dave",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_ENTITY", env.Error.Code)
}

func TestArticleLifecycle(t *testing.T) {
	e := newTestEnv(t, false)
	author := e.register(t, "carol", "carol@example.com", "passphrase-123")

	var slug string

	t.Run("create requires auth", func(t *testing.T) {
		rec, _ := e.do(t, http.MethodPost, "/api/articles", "", map[string]any{
			"title":   "My First Post",
			"content": "Hello world.",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("create and fetch", func(t *testing.T) {
		rec, env := e.do(t, http.MethodPost, "/api/articles", author.Session.AccessToken, map[string]any{
			"title":     "My First Post",
			"summary":   "An introduction",
			"content":   "Hello world.",
			"tags":      []string{"travel"},
			"published": true,
		})
		require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

		var created article.Article
		require.NoError(t, json.Unmarshal(env.Data, &created))
		assert.Equal(t, "my-first-post", created.Slug)
		slug = created.Slug

		rec, env = e.do(t, http.MethodGet, "/api/articles/"+slug, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("duplicate title rejected", func(t *testing.T) {
		rec, env := e.do(t, http.MethodPost, "/api/articles", author.Session.AccessToken, map[string]any{
			"title":     "My First Post",
			"content":   "Different body.",
			"published": true,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "DUPLICATE_ENTITY", env.Error.Code)
	})

	t.Run("list shows published only", func(t *testing.T) {
		e.do(t, http.MethodPost, "/api/articles", author.Session.AccessToken, map[string]any{
			"title":   "Unfinished Draft",
			"content": "wip",
		})

		rec, env := e.do(t, http.MethodGet, "/api/articles", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var data struct {
			Articles []article.Article `json:"articles"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		require.Len(t, data.Articles, 1)
		assert.Equal(t, "my-first-post", data.Articles[0].Slug)
	})

	t.Run("draft hidden from strangers, visible to author", func(t *testing.T) {
		rec, _ := e.do(t, http.MethodGet, "/api/articles/unfinished-draft", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec, _ = e.do(t, http.MethodGet, "/api/articles/unfinished-draft", author.Session.AccessToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("only the author can edit", func(t *testing.T) {
		stranger := e.register(t, "dave", "dave@example.com", "another-pass-5")

		rec, _ := e.do(t, http.MethodPut, "/api/articles/"+slug, stranger.Session.AccessToken, map[string]any{
			"title":   "Hijacked Title",
			"content": "Hijacked.",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec, _ = e.do(t, http.MethodPut, "/api/articles/"+slug, author.Session.AccessToken, map[string]any{
			"title":     "My First Post",
			"summary":   "Updated summary",
			"content":   "Hello again.",
			"published": true,
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("delete is admin only", func(t *testing.T) {
		rec, _ := e.do(t, http.MethodDelete, "/api/articles/"+slug, author.Session.AccessToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		e.accounts.mu.Lock()
		e.accounts.users[author.User.ID].Role = account.RoleAdmin
		e.accounts.mu.Unlock()

		// Role lives in the token; re-login to pick up the promotion.
		_, env := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "carol@example.com",
			"password": "passphrase-123",
		})
		var admin sessionData
		require.NoError(t, json.Unmarshal(env.Data, &admin))

		rec, _ = e.do(t, http.MethodDelete, "/api/articles/"+slug, admin.Session.AccessToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec, _ = e.do(t, http.MethodGet, "/api/articles/"+slug, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPipelineRejections(t *testing.T) {
	e := newTestEnv(t, true)

	t.Run("threat scan blocks before handlers", func(t *testing.T) {
		rec, env := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "x@example.com",
			"password": "' OR '1'='1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	})

	t.Run("login tier exhausts after five attempts", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			rec, _ := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
				"email":    "x@example.com",
				"password": fmt.Sprintf("bad-password-%d", i),
			})
			require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
		}

		rec, env := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "x@example.com",
			"password": "bad-password-final",
		})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "RATE_LIMITED", env.Error.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		// Fresh window, fresh budget.
		e.clk.Advance(15*time.Minute + time.Second)
		rec, _ = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "x@example.com",
			"password": "bad-password-again",
		})
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("every response carries a request id", func(t *testing.T) {
		rec, env := e.do(t, http.MethodGet, "/api/articles", "", nil)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
		assert.Equal(t, rec.Header().Get("X-Request-Id"), env.RequestID)
	})
}
