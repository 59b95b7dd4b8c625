// Package v1 exposes the engine over a small JSON REST API.
package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/openassist/actionflow/engine"
	"github.com/openassist/actionflow/internal/profile"
)

type APIV1Service struct {
	Profile *profile.Profile

	engine *engine.Engine
}

func NewAPIV1Service(profile *profile.Profile, eng *engine.Engine) *APIV1Service {
	return &APIV1Service{
		Profile: profile,
		engine:  eng,
	}
}

// RegisterRoutes attaches the v1 endpoints to the echo server.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	group := echoServer.Group("/api/v1")

	group.POST("/dispatch", s.Dispatch)
	group.GET("/plans/:id", s.GetPlan)
	group.POST("/plans/:id/resume", s.ResumePlan)
	group.POST("/plans/:id/cancel", s.CancelPlan)
	group.DELETE("/sessions/:id", s.CancelSession)
}

type dispatchRequest struct {
	UserID    int32          `json:"user_id"`
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Context   map[string]any `json:"context,omitempty"`
}

// Dispatch routes one user utterance through the engine.
func (s *APIV1Service) Dispatch(c echo.Context) error {
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	result, err := s.engine.Dispatch(c.Request().Context(), engine.DispatchRequest{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Text:      req.Text,
		Context:   req.Context,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "dispatch failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, result)
}

type resumeRequest struct {
	Input map[string]any `json:"input"`
}

// ResumePlan feeds user input into a plan suspended on WAITING_INPUT.
func (s *APIV1Service) ResumePlan(c echo.Context) error {
	planID := c.Param("id")

	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	p, err := s.engine.Resume(c.Request().Context(), planID, req.Input)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

// GetPlan returns the current snapshot of a plan.
func (s *APIV1Service) GetPlan(c echo.Context) error {
	planID := c.Param("id")

	p, ok := s.engine.PlanStatus(c.Request().Context(), planID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	}
	return c.JSON(http.StatusOK, p)
}

// CancelPlan requests cooperative cancellation of a plan.
func (s *APIV1Service) CancelPlan(c echo.Context) error {
	planID := c.Param("id")

	if !s.engine.CancelPlan(c.Request().Context(), planID) {
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// CancelSession abandons an in-flight parameter collection session.
func (s *APIV1Service) CancelSession(c echo.Context) error {
	sessionID := c.Param("id")

	ok, err := s.engine.CancelSession(c.Request().Context(), sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "cancel failed").SetInternal(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}
