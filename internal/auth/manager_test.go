package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/session-auth/internal/audit"
	"github.com/yourusername/session-auth/internal/identity"
	"github.com/yourusername/session-auth/internal/web"
)

const testSecret = "this-is-a-test-secret-with-32-bytes!"

// =============================================================================
// Test doubles
// =============================================================================

type mockIdentity struct {
	registerFunc     func(ctx context.Context, username, password string) (identity.User, error)
	loginFunc        func(ctx context.Context, username, password string) (identity.User, error)
	resolveTokenFunc func(ctx context.Context, token string) (identity.User, error)
}

func (m *mockIdentity) Register(ctx context.Context, username, password string) (identity.User, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, username, password)
	}
	return identity.User{}, errors.New("not implemented")
}

func (m *mockIdentity) Login(ctx context.Context, username, password string) (identity.User, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, username, password)
	}
	return identity.User{}, errors.New("not implemented")
}

func (m *mockIdentity) ResolveToken(ctx context.Context, token string) (identity.User, error) {
	if m.resolveTokenFunc != nil {
		return m.resolveTokenFunc(ctx, token)
	}
	return identity.User{}, identity.ErrUnknownToken
}

func (m *mockIdentity) Anonymous() identity.User {
	return identity.Anonymous()
}

type memStore struct {
	mu   sync.Mutex
	rows []identity.User
}

func (s *memStore) FindByToken(ctx context.Context, token string) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.rows {
		if u.Token == token {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}

func (s *memStore) FindByUsername(ctx context.Context, username string) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.rows {
		if u.Username == username {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}

func (s *memStore) Insert(ctx context.Context, user identity.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.rows {
		if u.Username == user.Username {
			return 0, identity.ConflictError{Field: "username"}
		}
	}
	user.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, user)
	return user.ID, nil
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingRecorder) Record(ctx context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingRecorder) kinds() []audit.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// =============================================================================
// Test helpers
// =============================================================================

func newRouter(t *testing.T, svc IdentityService, rec audit.Recorder) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tmpl, err := web.Templates()
	require.NoError(t, err)

	router := gin.New()
	router.SetHTMLTemplate(tmpl)
	router.Use(Sessions(NewSessionStore([]byte(testSecret), 24*time.Hour, false)))

	m := NewManager(svc, rec, nil)
	router.Use(m.LoadUser())
	m.Mount(router)
	return router
}

func newRealService(t *testing.T) *identity.Service {
	t.Helper()
	hasher, err := identity.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := identity.NewService(&memStore{}, identity.WithHasher(hasher))
	require.NoError(t, err)
	return svc
}

// client は Set-Cookie を引き継ぐ簡易ブラウザです。
type client struct {
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func newClient(router *gin.Engine) *client {
	return &client{router: router, cookies: make(map[string]*http.Cookie)}
}

func (cl *client) do(req *http.Request) *httptest.ResponseRecorder {
	for _, ck := range cl.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	cl.router.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(cl.cookies, ck.Name)
			continue
		}
		cl.cookies[ck.Name] = ck
	}
	return rec
}

func (cl *client) get(path string) *httptest.ResponseRecorder {
	return cl.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (cl *client) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return cl.do(req)
}

func regValues(username, password, confirm string) url.Values {
	return url.Values{"username": {username}, "password": {password}, "password_confirm": {confirm}}
}

// =============================================================================
// Request pipeline
// =============================================================================

func TestLoadUserWithoutTokenIsAnonymous(t *testing.T) {
	called := false
	svc := &mockIdentity{resolveTokenFunc: func(ctx context.Context, token string) (identity.User, error) {
		called = true
		return identity.User{}, nil
	}}
	cl := newClient(newRouter(t, svc, nil))

	rec := cl.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome, anon")
	assert.False(t, called, "no token must not hit the identity service")
}

func TestLoadUserFailsOpen(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "unknown token", err: identity.ErrUnknownToken},
		{name: "store failure", err: errors.New("db down")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockIdentity{
				loginFunc: func(ctx context.Context, username, password string) (identity.User, error) {
					return identity.User{ID: 1, Username: "alice", Token: "tok"}, nil
				},
				resolveTokenFunc: func(ctx context.Context, token string) (identity.User, error) {
					return identity.User{}, tc.err
				},
			}
			cl := newClient(newRouter(t, svc, nil))

			rec := cl.postForm("/login", url.Values{"username": {"alice"}, "password": {"pw"}})
			require.Equal(t, http.StatusFound, rec.Code)

			rec = cl.get("/")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "Welcome, anon")
		})
	}
}

func TestCurrentUserDefaultsToAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Equal(t, identity.Anonymous(), CurrentUser(c))

	c.Set(ContextUserKey, "not a user")
	assert.Equal(t, identity.Anonymous(), CurrentUser(c))

	alice := identity.User{ID: 1, Username: "alice"}
	c.Set(ContextUserKey, alice)
	assert.Equal(t, alice, CurrentUser(c))
}

// =============================================================================
// Register / login / logout flows
// =============================================================================

func TestRegisterLoginLogoutFlow(t *testing.T) {
	rec := &recordingRecorder{}
	router := newRouter(t, newRealService(t), rec)
	cl := newClient(router)

	resp := cl.postForm("/register", regValues("alice", "correct-horse", "correct-horse"))
	require.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "/", resp.Header().Get("Location"))
	require.Contains(t, cl.cookies, SessionCookieName)

	resp = cl.get("/")
	assert.Contains(t, resp.Body.String(), "Welcome back, alice")

	resp = cl.postForm("/logout", nil)
	require.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "/", resp.Header().Get("Location"))

	resp = cl.get("/")
	assert.Contains(t, resp.Body.String(), "Welcome, anon")

	fresh := newClient(router)
	resp = fresh.postForm("/login", url.Values{"username": {"alice"}, "password": {"correct-horse"}})
	require.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "/", resp.Header().Get("Location"))

	resp = fresh.get("/")
	assert.Contains(t, resp.Body.String(), "Welcome back, alice")

	assert.Equal(t, []audit.Kind{audit.KindRegisterSuccess, audit.KindLogout, audit.KindLoginSuccess}, rec.kinds())
}

func TestRegisterRejectsInvalidForms(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{name: "missing username", form: regValues("", "pw", "pw")},
		{name: "missing password", form: regValues("alice", "", "")},
		{name: "missing confirmation", form: regValues("alice", "pw", "")},
		{name: "confirmation mismatch", form: regValues("alice", "pw", "other")},
		{name: "username over 255 characters", form: regValues(strings.Repeat("a", 256), "pw", "pw")},
		{name: "password over 72 bytes", form: regValues("alice", strings.Repeat("a", 73), strings.Repeat("a", 73))},
		{name: "multibyte password over 72 bytes", form: regValues("alice", strings.Repeat("é", 37), strings.Repeat("é", 37))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			svc := &mockIdentity{registerFunc: func(ctx context.Context, username, password string) (identity.User, error) {
				called = true
				return identity.User{}, nil
			}}
			cl := newClient(newRouter(t, svc, nil))

			resp := cl.postForm("/register", tc.form)
			assert.Equal(t, http.StatusFound, resp.Code)
			assert.Equal(t, "/register", resp.Header().Get("Location"))
			assert.False(t, called)
		})
	}
}

func TestRegisterDuplicateRedirectsBack(t *testing.T) {
	rec := &recordingRecorder{}
	router := newRouter(t, newRealService(t), rec)

	first := newClient(router)
	require.Equal(t, http.StatusFound, first.postForm("/register", regValues("alice", "pw", "pw")).Code)

	second := newClient(router)
	resp := second.postForm("/register", regValues("alice", "other", "other"))
	assert.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "/register", resp.Header().Get("Location"))

	resp = second.get("/")
	assert.Contains(t, resp.Body.String(), "Welcome, anon")
	assert.Contains(t, rec.kinds(), audit.KindRegisterDuplicate)
}

func TestRegisterLengthBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantLoc  string
	}{
		{name: "72-byte password", username: "alice", password: strings.Repeat("a", 72), wantLoc: "/"},
		{name: "73-byte password", username: "alice", password: strings.Repeat("a", 73), wantLoc: "/register"},
		{name: "255-character username", username: strings.Repeat("u", 255), password: "pw", wantLoc: "/"},
		{name: "256-character username", username: strings.Repeat("u", 256), password: "pw", wantLoc: "/register"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(t, newRealService(t), nil)
			cl := newClient(router)

			resp := cl.postForm("/register", regValues(tt.username, tt.password, tt.password))
			require.Equal(t, http.StatusFound, resp.Code)
			assert.Equal(t, tt.wantLoc, resp.Header().Get("Location"))

			if tt.wantLoc != "/" {
				assert.NotContains(t, cl.cookies, SessionCookieName)
				return
			}
			fresh := newClient(router)
			resp = fresh.postForm("/login", url.Values{"username": {tt.username}, "password": {tt.password}})
			require.Equal(t, http.StatusFound, resp.Code)
			assert.Equal(t, "/", resp.Header().Get("Location"))
		})
	}
}

func TestRegisterPasswordTooLongRedirects(t *testing.T) {
	svc := &mockIdentity{registerFunc: func(ctx context.Context, username, password string) (identity.User, error) {
		return identity.User{}, identity.ErrPasswordTooLong
	}}
	cl := newClient(newRouter(t, svc, nil))

	resp := cl.postForm("/register", regValues("alice", "pw", "pw"))
	assert.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "/register", resp.Header().Get("Location"))
	assert.NotContains(t, cl.cookies, SessionCookieName)
}

func TestRegisterHashingFailureIsServerError(t *testing.T) {
	svc := &mockIdentity{registerFunc: func(ctx context.Context, username, password string) (identity.User, error) {
		return identity.User{}, identity.ErrHashingFailure
	}}
	cl := newClient(newRouter(t, svc, nil))

	resp := cl.postForm("/register", regValues("alice", "pw", "pw"))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.NotContains(t, cl.cookies, SessionCookieName)
}

func TestLoginInvalidCredentialsRedirectsBack(t *testing.T) {
	rec := &recordingRecorder{}
	router := newRouter(t, newRealService(t), rec)
	require.Equal(t, http.StatusFound, newClient(router).postForm("/register", regValues("alice", "pw", "pw")).Code)

	for _, form := range []url.Values{
		{"username": {"alice"}, "password": {"wrong"}},
		{"username": {"nobody"}, "password": {"pw"}},
	} {
		cl := newClient(router)
		resp := cl.postForm("/login", form)
		assert.Equal(t, http.StatusFound, resp.Code)
		assert.Equal(t, "/login", resp.Header().Get("Location"))

		resp = cl.get("/")
		assert.Contains(t, resp.Body.String(), "Welcome, anon")
	}

	var failed []audit.Event
	for _, ev := range rec.events {
		if ev.Kind == audit.KindLoginFailed {
			failed = append(failed, ev)
		}
	}
	require.Len(t, failed, 2)
	for _, ev := range failed {
		assert.Nil(t, ev.UserID)
	}
}

func TestLoginMissingFieldsRedirects(t *testing.T) {
	called := false
	svc := &mockIdentity{loginFunc: func(ctx context.Context, username, password string) (identity.User, error) {
		called = true
		return identity.User{}, nil
	}}
	cl := newClient(newRouter(t, svc, nil))

	resp := cl.postForm("/login", url.Values{"username": {"alice"}})
	assert.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "/login", resp.Header().Get("Location"))
	assert.False(t, called)
}

func TestLoginStoreFailureIsServerError(t *testing.T) {
	svc := &mockIdentity{loginFunc: func(ctx context.Context, username, password string) (identity.User, error) {
		return identity.User{}, errors.New("db down")
	}}
	cl := newClient(newRouter(t, svc, nil))

	resp := cl.postForm("/login", url.Values{"username": {"alice"}, "password": {"pw"}})
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestLogoutAnonymousSkipsAudit(t *testing.T) {
	rec := &recordingRecorder{}
	cl := newClient(newRouter(t, &mockIdentity{}, rec))

	resp := cl.postForm("/logout", nil)
	assert.Equal(t, http.StatusFound, resp.Code)
	assert.Empty(t, rec.kinds())
}

func TestPagesRender(t *testing.T) {
	cl := newClient(newRouter(t, &mockIdentity{}, nil))

	for _, path := range []string{"/register", "/login"} {
		resp := cl.get(path)
		assert.Equal(t, http.StatusOK, resp.Code, path)
		assert.Contains(t, resp.Body.String(), "<form", path)
	}
}

func TestNewSessionStoreOptions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Sessions(NewSessionStore([]byte(testSecret), 2*time.Hour, true)))
	router.GET("/set", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Set(sessionKeyToken, "tok")
		require.NoError(t, s.Save())
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/set", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, SessionCookieName, ck.Name)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, 7200, ck.MaxAge)
	assert.NotEmpty(t, ck.Value)
}

func TestLogoutKeepsCookieAttributes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tmpl, err := web.Templates()
	require.NoError(t, err)

	svc := &mockIdentity{
		registerFunc: func(ctx context.Context, username, password string) (identity.User, error) {
			return identity.User{ID: 1, Username: username, Token: "tok-1"}, nil
		},
		resolveTokenFunc: func(ctx context.Context, token string) (identity.User, error) {
			return identity.User{ID: 1, Username: "alice", Token: token}, nil
		},
	}

	router := gin.New()
	router.SetHTMLTemplate(tmpl)
	router.Use(Sessions(NewSessionStore([]byte(testSecret), 2*time.Hour, true)))
	m := NewManager(svc, nil, nil, WithSessionOptions(SessionOptions(2*time.Hour, true)))
	router.Use(m.LoadUser())
	m.Mount(router)

	cl := newClient(router)
	require.Equal(t, http.StatusFound, cl.postForm("/register", regValues("alice", "pw", "pw")).Code)
	require.Contains(t, cl.cookies, SessionCookieName)

	resp := cl.postForm("/logout", nil)
	require.Equal(t, http.StatusFound, resp.Code)

	cookies := resp.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, SessionCookieName, ck.Name)
	assert.Less(t, ck.MaxAge, 0)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.Equal(t, "/", ck.Path)
}
