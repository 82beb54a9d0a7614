// Package api contains the HTTP handlers for the flows service.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"vex-flows/backend/internal/auth"
	"vex-flows/backend/internal/channels"
	"vex-flows/backend/internal/config"
	"vex-flows/backend/internal/repository"
	"vex-flows/backend/internal/services"
)

const serviceName = "vex-flows"

// Server holds the dependencies for the API handlers.
type Server struct {
	store      repository.Store
	events     *services.EventService
	executor   *services.Executor
	dispatcher channels.Dispatcher
	cfg        *config.Config
	log        *logrus.Entry
}

// NewServer creates a new Server.
func NewServer(store repository.Store, events *services.EventService, executor *services.Executor, dispatcher channels.Dispatcher, cfg *config.Config, logger *logrus.Logger) *Server {
	return &Server{
		store:      store,
		events:     events,
		executor:   executor,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        logger.WithField("component", "api"),
	}
}

// Register mounts all routes. Routes under /api require the auth middleware;
// the events endpoint additionally accepts the shared events token, and the
// webhooks carry their own secret header checks.
func (s *Server) Register(e *echo.Echo, authMW echo.MiddlewareFunc) {
	e.GET("/", s.Root)
	e.GET("/health", s.Health)

	e.POST("/webhooks/gmail", s.GmailWebhook)
	e.POST("/webhooks/core/password-reset", s.PasswordResetWebhook)

	e.POST("/api/flows/events", s.IngestEvent, s.eventsGuard(authMW))

	g := e.Group("/api", authMW)

	g.GET("/flows", s.ListFlows)
	g.POST("/flows", s.CreateFlow)
	g.GET("/flows/:id", s.GetFlow)
	g.PUT("/flows/:id", s.UpdateFlow)
	g.DELETE("/flows/:id", s.DeleteFlow)

	g.GET("/flows/:id/steps", s.ListSteps)
	g.POST("/flows/:id/steps", s.CreateStep)
	g.DELETE("/flows/:id/steps/:stepID", s.DeleteStep)

	g.GET("/runs", s.ListRuns)
	g.GET("/runs/:id", s.GetRun)

	g.GET("/triggers", s.ListTriggers)
	g.POST("/triggers", s.CreateTrigger)
	g.DELETE("/triggers/:id", s.DeleteTrigger)
	g.POST("/triggers/emit", s.EmitTrigger)

	g.GET("/providers", s.ListProviders)
	g.POST("/providers/:provider/connect", s.ConnectProvider)
	g.POST("/providers/:provider/test", s.TestProvider)

	g.GET("/messages", s.ListMessages)
	g.POST("/messages", s.CreateMessage)
	g.GET("/messages/:id", s.GetMessage)
}

// Root answers a bare service ping.
func (s *Server) Root(c echo.Context) error {
	return okJSON(c, http.StatusOK, map[string]any{
		"service": serviceName,
		"time":    time.Now().UTC(),
	})
}

// Health reports service health including database reachability. The DB ping
// can be skipped via server.health_skip_db for setups that health-check the
// process alone.
func (s *Server) Health(c echo.Context) error {
	status := map[string]any{"service": serviceName, "status": "ok"}
	if !s.cfg.Server.HealthSkipDB {
		if err := s.store.Ping(c.Request().Context()); err != nil {
			s.log.WithError(err).Error("health check db ping failed")
			status["status"] = "degraded"
			status["db"] = "unreachable"
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"ok": false, "data": status})
		}
		status["db"] = "ok"
	}
	return okJSON(c, http.StatusOK, status)
}

// okJSON writes the success envelope.
func okJSON(c echo.Context, status int, data any) error {
	return c.JSON(status, map[string]any{"ok": true, "data": data})
}

// failJSON writes the error envelope.
func failJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]any{"ok": false, "error": msg})
}

// storeError maps repository errors onto envelope responses.
func (s *Server) storeError(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return failJSON(c, http.StatusNotFound, "not_found")
	}
	s.log.WithError(err).Error("store operation failed")
	return failJSON(c, http.StatusInternalServerError, "internal_error")
}

// orgID returns the caller's organization. Middleware guarantees an identity
// on every /api route.
func orgID(c echo.Context) string {
	if ident := auth.IdentityFrom(c); ident != nil {
		return ident.OrgID
	}
	return ""
}

// eventsGuard admits requests carrying the shared events token, in the
// X-Events-Token header or as a bearer token, and falls back to regular
// authentication otherwise. An empty configured token leaves the endpoint
// open.
func (s *Server) eventsGuard(authMW echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		authed := authMW(next)
		return func(c echo.Context) error {
			token := s.cfg.Server.EventsToken
			if token == "" ||
				c.Request().Header.Get("X-Events-Token") == token ||
				auth.BearerToken(c.Request()) == token {
				return next(c)
			}
			return authed(c)
		}
	}
}

func pathID(c echo.Context, name string) (int64, bool) {
	var id int64
	if err := echo.PathParamsBinder(c).Int64(name, &id).BindError(); err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
