// Package auth resolves bearer tokens to tenant identities. Two modes are
// supported: "introspect" asks the core service to validate the token and
// caches the answer, "jwt" verifies a locally signed HMAC token without any
// network call.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	libstore "github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"vex-flows/backend/internal/config"
	"vex-flows/backend/pkg/models"
)

// ErrUnauthorized is returned for missing, invalid, or expired tokens.
var ErrUnauthorized = errors.New("unauthorized")

const (
	ModeIntrospect = "introspect"
	ModeJWT        = "jwt"

	defaultCacheTTL         = time.Minute
	defaultIntrospectPath   = "/api/auth/introspect"
	introspectCallTimeout   = 10 * time.Second
	cacheNumCounters        = 10000
	cacheMaxCost            = 1000
	cacheBufferItems        = 64
)

// verifier resolves a raw bearer token to an identity.
type verifier interface {
	verify(ctx context.Context, token string) (*models.Identity, error)
}

// Service authenticates requests according to the configured mode.
type Service struct {
	verifier  verifier
	cache     *cache.Cache[*models.Identity]
	ttl       time.Duration
	allowAnon bool
	log       *logrus.Entry
}

// NewService builds the authenticator for the configured mode. Introspection
// answers are cached per token so hot API clients do not hammer the core
// service on every request.
func NewService(cfg *config.Config, logger *logrus.Logger) (*Service, error) {
	log := logger.WithField("component", "auth")

	svc := &Service{
		ttl:       cfg.Auth.CacheTTL,
		allowAnon: cfg.Auth.AllowAnon,
		log:       log,
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultCacheTTL
	}

	switch cfg.Auth.Mode {
	case ModeJWT:
		if cfg.Auth.JWTSecret == "" {
			return nil, errors.New("auth: jwt mode requires auth.jwt_secret")
		}
		svc.verifier = &jwtVerifier{secret: []byte(cfg.Auth.JWTSecret)}
	case ModeIntrospect, "":
		if cfg.Auth.CoreURL == "" && !cfg.Auth.AllowAnon {
			return nil, errors.New("auth: introspect mode requires auth.core_url")
		}
		path := cfg.Auth.IntrospectPath
		if path == "" {
			path = defaultIntrospectPath
		}
		svc.verifier = &introspector{
			client: resty.New().SetBaseURL(cfg.Auth.CoreURL).SetTimeout(introspectCallTimeout),
			path:   path,
		}
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", cfg.Auth.Mode)
	}

	ristrettoCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: init token cache: %w", err)
	}
	svc.cache = cache.New[*models.Identity](ristretto_store.NewRistretto(ristrettoCache))

	return svc, nil
}

// Authenticate resolves a bearer token to an identity, consulting the token
// cache first.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	if ident, err := s.cache.Get(ctx, token); err == nil && ident != nil {
		return ident, nil
	}

	ident, err := s.verifier.verify(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, token, ident, libstore.WithExpiration(s.ttl)); err != nil {
		s.log.WithError(err).Debug("token cache set failed")
	}
	return ident, nil
}

// AnonIdentity is the development fallback used when allow_anon is set and
// the request carries no token.
func AnonIdentity() *models.Identity {
	return &models.Identity{UserID: "anon", OrgID: "1", Role: "admin"}
}

// AllowAnon reports whether unauthenticated requests fall back to the
// development identity.
func (s *Service) AllowAnon() bool {
	return s.allowAnon
}

// introspector validates tokens against the core service.
type introspector struct {
	client *resty.Client
	path   string
}

type introspectUser struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	OrganizationID string `json:"organizacion_id"`
	OrgID          string `json:"org_id"`
	Role           string `json:"role"`
}

type introspectResponse struct {
	OK   bool `json:"ok"`
	Data struct {
		Active bool           `json:"active"`
		User   introspectUser `json:"user"`
	} `json:"data"`
}

func (i *introspector) verify(ctx context.Context, token string) (*models.Identity, error) {
	var result introspectResponse
	resp, err := i.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&result).
		Get(i.path)
	if err != nil {
		return nil, fmt.Errorf("auth: introspect call: %w", err)
	}
	if resp.IsError() || !result.OK || !result.Data.Active {
		return nil, ErrUnauthorized
	}

	user := result.Data.User
	orgID := user.OrganizationID
	if orgID == "" {
		orgID = user.OrgID
	}
	if orgID == "" {
		return nil, ErrUnauthorized
	}
	return &models.Identity{
		UserID: user.ID,
		Email:  user.Email,
		OrgID:  orgID,
		Role:   user.Role,
	}, nil
}

// jwtVerifier checks locally signed HMAC tokens.
type jwtVerifier struct {
	secret []byte
}

func (v *jwtVerifier) verify(ctx context.Context, token string) (*models.Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthorized
	}
	orgID := claimString(claims, "org_id")
	if orgID == "" {
		orgID = claimString(claims, "organizacion_id")
	}
	if orgID == "" {
		return nil, ErrUnauthorized
	}
	return &models.Identity{
		UserID: claimString(claims, "sub"),
		Email:  claimString(claims, "email"),
		OrgID:  orgID,
		Role:   claimString(claims, "role"),
	}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
