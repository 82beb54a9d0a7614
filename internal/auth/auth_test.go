package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vex-flows/backend/internal/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func introspectConfig(coreURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Auth.Mode = ModeIntrospect
	cfg.Auth.CoreURL = coreURL
	cfg.Auth.IntrospectPath = "/api/auth/introspect"
	cfg.Auth.CacheTTL = time.Minute
	return cfg
}

func jwtConfig(secret string) *config.Config {
	cfg := &config.Config{}
	cfg.Auth.Mode = ModeJWT
	cfg.Auth.JWTSecret = secret
	return cfg
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestIntrospectResolvesIdentity(t *testing.T) {
	var calls atomic.Int64
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/auth/introspect", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"data":{"active":true,"user":{"id":"u-1","email":"ana@acme.test","organizacion_id":"org-7","role":"admin"}}}`))
	}))
	defer core.Close()

	svc, err := NewService(introspectConfig(core.URL), testLogger())
	require.NoError(t, err)

	ident, err := svc.Authenticate(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", ident.UserID)
	assert.Equal(t, "org-7", ident.OrgID)
	assert.Equal(t, "admin", ident.Role)
	assert.Equal(t, int64(1), calls.Load())
}

func TestIntrospectCachesTokens(t *testing.T) {
	var calls atomic.Int64
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"data":{"active":true,"user":{"id":"u-1","org_id":"org-7"}}}`))
	}))
	defer core.Close()

	svc, err := NewService(introspectConfig(core.URL), testLogger())
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "tok-1")
	require.NoError(t, err)

	// Ristretto admits entries asynchronously; give the first set a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, cerr := svc.cache.Get(context.Background(), "tok-1"); cerr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, err = svc.Authenticate(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "second call must be served from cache")
}

func TestIntrospectRejectsInactiveToken(t *testing.T) {
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"data":{"active":false}}`))
	}))
	defer core.Close()

	svc, err := NewService(introspectConfig(core.URL), testLogger())
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "tok-bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestIntrospectRejectsErrorStatus(t *testing.T) {
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer core.Close()

	svc, err := NewService(introspectConfig(core.URL), testLogger())
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "tok-bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJWTResolvesIdentity(t *testing.T) {
	svc, err := NewService(jwtConfig("sekrit"), testLogger())
	require.NoError(t, err)

	token := signToken(t, "sekrit", jwt.MapClaims{
		"sub":    "u-2",
		"email":  "bo@acme.test",
		"org_id": "org-3",
		"role":   "member",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	ident, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u-2", ident.UserID)
	assert.Equal(t, "org-3", ident.OrgID)
	assert.Equal(t, "member", ident.Role)
}

func TestJWTRejectsBadSignature(t *testing.T) {
	svc, err := NewService(jwtConfig("sekrit"), testLogger())
	require.NoError(t, err)

	token := signToken(t, "other-secret", jwt.MapClaims{"org_id": "org-3"})
	_, err = svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	svc, err := NewService(jwtConfig("sekrit"), testLogger())
	require.NoError(t, err)

	token := signToken(t, "sekrit", jwt.MapClaims{
		"org_id": "org-3",
		"exp":    time.Now().Add(-time.Hour).Unix(),
	})
	_, err = svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJWTRequiresOrgClaim(t *testing.T) {
	svc, err := NewService(jwtConfig("sekrit"), testLogger())
	require.NoError(t, err)

	token := signToken(t, "sekrit", jwt.MapClaims{"sub": "u-2"})
	_, err = svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewServiceValidatesConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.Mode = "saml"
	_, err := NewService(cfg, testLogger())
	require.Error(t, err)

	cfg = &config.Config{}
	cfg.Auth.Mode = ModeJWT
	_, err = NewService(cfg, testLogger())
	require.Error(t, err, "jwt mode without a secret must fail")
}

func TestMiddlewareSetsIdentity(t *testing.T) {
	svc, err := NewService(jwtConfig("sekrit"), testLogger())
	require.NoError(t, err)

	token := signToken(t, "sekrit", jwt.MapClaims{"sub": "u-9", "org_id": "org-9"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/flows", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := svc.Middleware()(func(c echo.Context) error {
		ident := IdentityFrom(c)
		require.NotNil(t, ident)
		assert.Equal(t, "org-9", ident.OrgID)
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	svc, err := NewService(jwtConfig("sekrit"), testLogger())
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/flows", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := svc.Middleware()(func(c echo.Context) error {
		t.Fatal("handler must not run")
		return nil
	})
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"unauthorized"}`, rec.Body.String())
}

func TestMiddlewareAnonFallback(t *testing.T) {
	cfg := jwtConfig("sekrit")
	cfg.Auth.AllowAnon = true
	svc, err := NewService(cfg, testLogger())
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/flows", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := svc.Middleware()(func(c echo.Context) error {
		ident := IdentityFrom(c)
		require.NotNil(t, ident)
		assert.Equal(t, "1", ident.OrgID)
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	// An invalid token is still rejected even with the anon fallback on.
	req = httptest.NewRequest(http.MethodGet, "/api/flows", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer garbage")
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
