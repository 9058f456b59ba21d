// Package server exposes research runs over HTTP with server-sent events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
)

// Service starts runs and answers clarification requests.
type Service interface {
	Stream(ctx context.Context, req research.Request) <-chan research.Frame
	Clarify(ctx context.Context, query string) (agents.Questions, error)
}

// RunReader reads persisted runs.
type RunReader interface {
	GetRun(ctx context.Context, id string) (research.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]research.RunRecord, error)
}

type Options struct {
	JWTSecret   []byte
	CORSOrigins []string
	RunTimeout  time.Duration
	// Runs enables the history endpoints when set.
	Runs    RunReader
	Metrics http.Handler
	Logger  *log.Logger
}

type Server struct {
	Echo   *echo.Echo
	svc    Service
	opts   Options
	logger *log.Logger
}

func New(svc Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{Echo: echo.New(), svc: svc, opts: opts, logger: opts.Logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.Echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(s.opts.Metrics))

	api := e.Group("/api")
	if len(s.opts.JWTSecret) > 0 {
		api.Use(AuthMiddleware(s.opts.JWTSecret))
	}
	h := &researchHandler{svc: s.svc, runTimeout: s.opts.RunTimeout, logger: s.logger}
	h.Register(api)
	if s.opts.Runs != nil {
		rh := &runsHandler{runs: s.opts.Runs}
		rh.Register(api.Group("/runs"))
	}
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.Echo.Shutdown(ctx) }
