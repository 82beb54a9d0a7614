package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"vex-flows/backend/pkg/models"
)

const identityContextKey = "identity"

// Middleware authenticates the request and stores the resolved identity in
// the echo context. Requests without a token pass through with the
// development identity when allow_anon is set; invalid tokens are always
// rejected.
func (s *Service) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c.Request())
			if token == "" {
				if s.allowAnon {
					c.Set(identityContextKey, AnonIdentity())
					return next(c)
				}
				return unauthorized(c)
			}

			ident, err := s.Authenticate(c.Request().Context(), token)
			if err != nil {
				s.log.WithError(err).Debug("token rejected")
				return unauthorized(c)
			}
			c.Set(identityContextKey, ident)
			return next(c)
		}
	}
}

// IdentityFrom returns the authenticated identity stored by Middleware, or
// nil when the request was not authenticated.
func IdentityFrom(c echo.Context) *models.Identity {
	ident, _ := c.Get(identityContextKey).(*models.Identity)
	return ident
}

// SetIdentity stores an identity in the request context the way Middleware
// does. Handler tests use it to simulate an authenticated caller.
func SetIdentity(c echo.Context, ident *models.Identity) {
	c.Set(identityContextKey, ident)
}

// BearerToken extracts the token from the Authorization header, or returns
// the empty string when the header is absent or not a bearer scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]any{
		"ok":    false,
		"error": "unauthorized",
	})
}
