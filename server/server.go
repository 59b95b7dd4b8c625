// Package server hosts the HTTP surface of the engine: the dispatch API,
// plan lifecycle endpoints, health and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/openassist/actionflow/engine"
	"github.com/openassist/actionflow/engine/metrics"
	"github.com/openassist/actionflow/internal/profile"
	"github.com/openassist/actionflow/internal/version"
	apiv1 "github.com/openassist/actionflow/server/router/api/v1"
	"github.com/openassist/actionflow/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	engine     *engine.Engine
	metrics    *metrics.Exporter
}

// NewServer wires the HTTP routes over an already-constructed engine.
func NewServer(_ context.Context, profile *profile.Profile, st *store.Store, eng *engine.Engine, exporter *metrics.Exporter) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine required")
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true

	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.CORS())
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))

	s := &Server{
		Profile:    profile,
		Store:      st,
		echoServer: echoServer,
		engine:     eng,
		metrics:    exporter,
	}

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.String(),
		})
	})
	if exporter != nil {
		echoServer.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	apiService := apiv1.NewAPIV1Service(profile, eng)
	apiService.RegisterRoutes(echoServer)

	return s, nil
}

// Start begins serving in a background goroutine. Errors other than a clean
// shutdown are logged.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}

	slog.Info("server shutdown")
}
