package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/efebarandurmaz/eos/internal/llm"
	"github.com/efebarandurmaz/eos/internal/observability"
	"github.com/efebarandurmaz/eos/internal/server"
)

// DefaultAddr keeps the bridge on loopback; the overlay is single-user.
const DefaultAddr = "127.0.0.1:8790"

// Config wires the bridge server. Commands is required.
type Config struct {
	Addr      string
	Commands  *Commands
	Hub       *Hub
	Health    *server.HealthServer
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	KeepAlive time.Duration
}

// Server is the HTTP command bridge.
type Server struct {
	echo      *echo.Echo
	addr      string
	commands  *Commands
	hub       *Hub
	logger    *slog.Logger
	keepAlive time.Duration
}

// AskRequest is the ask_llm body. History entries of any shape are accepted;
// ones that are not valid turns are skipped when rendering.
type AskRequest struct {
	Prompt  *string     `json:"prompt"`
	History llm.History `json:"history"`
}

// NewServer builds the echo server and registers all routes.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.Warn("HTTP request", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("HTTP request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:      e,
		addr:      addr,
		commands:  cfg.Commands,
		hub:       hub,
		logger:    logger,
		keepAlive: keepAlive,
	}
	s.RegisterRoutes(e, cfg.Health, cfg.Metrics)
	return s
}

// RegisterRoutes registers the bridge routes.
func (s *Server) RegisterRoutes(e *echo.Echo, health *server.HealthServer, metrics *observability.Metrics) {
	api := e.Group("/api")
	api.POST("/invoke/"+CommandAskLLM, s.AskLLM)
	api.POST("/invoke/"+CommandMinimizeWindow, s.MinimizeWindow)
	api.POST("/invoke/"+CommandCloseWindow, s.CloseWindow)
	api.GET("/events", s.Events)
	api.GET("/exchanges", s.Exchanges)

	if health != nil {
		e.GET("/health", echo.WrapHandler(http.HandlerFunc(health.HandleHealth)))
		e.GET("/healthz", echo.WrapHandler(http.HandlerFunc(health.HandleHealth)))
		e.GET("/ready", echo.WrapHandler(http.HandlerFunc(health.HandleReady)))
		e.GET("/readyz", echo.WrapHandler(http.HandlerFunc(health.HandleReady)))
		e.GET("/live", echo.WrapHandler(http.HandlerFunc(health.HandleLive)))
		e.GET("/livez", echo.WrapHandler(http.HandlerFunc(health.HandleLive)))
	}
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting bridge", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge server error: %w", err)
	}
	return nil
}

// Shutdown ends open event streams, stops accepting requests and waits for
// in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping bridge")
	s.hub.Close()
	return s.echo.Shutdown(ctx)
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

// commandError is the UI-facing failure shape: always 200, message only.
func commandError(c echo.Context, err error) error {
	return c.JSON(http.StatusOK, echo.Map{"error": err.Error()})
}

// AskLLM handles POST /api/invoke/ask_llm.
func (s *Server) AskLLM(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Prompt == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "prompt is required"})
	}

	res, err := s.commands.AskLLM(c.Request().Context(), requestID(c), *req.Prompt, req.History)
	if err != nil {
		return commandError(c, err)
	}

	body := echo.Map{"result": res.Text}
	if res.Fallback != "" {
		body["fallback"] = res.Fallback
	}
	return c.JSON(http.StatusOK, body)
}

// MinimizeWindow handles POST /api/invoke/minimize_window.
func (s *Server) MinimizeWindow(c echo.Context) error {
	if err := s.commands.MinimizeWindow(c.Request().Context()); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"result": nil})
}

// CloseWindow handles POST /api/invoke/close_window.
func (s *Server) CloseWindow(c echo.Context) error {
	if err := s.commands.CloseWindow(c.Request().Context()); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"result": nil})
}

// Exchanges handles GET /api/exchanges?limit=N.
func (s *Server) Exchanges(c echo.Context) error {
	if !s.commands.ArchiveEnabled() {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "archive disabled"})
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}

	exchanges, err := s.commands.Recent(c.Request().Context(), limit)
	if err != nil {
		s.logger.Warn("archive read failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "archive unavailable"})
	}
	return c.JSON(http.StatusOK, exchanges)
}

// Events handles GET /api/events (Server-Sent Events).
func (s *Server) Events(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)
	s.logger.Info("window UI attached", "subscribers", s.hub.Len())

	if err := writeEvent(w, &Event{Type: EventConnected, Timestamp: time.Now()}); err != nil {
		return nil
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("window UI detached")
			return nil
		case <-sub.Done():
			return nil
		case data := <-sub.Events():
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w *echo.Response, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
