package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/leadchat/internal/config"
	"github.com/leadchat/internal/leads"
	"github.com/leadchat/internal/logging"
	"github.com/leadchat/internal/relay"
)

// Server represents the API server
type Server struct {
	echo   *echo.Echo
	port   int
	relay  relay.ChatRelay
	leads  *leads.Service
	logger zerolog.Logger
}

// NewServer creates a new API server. Either collaborator may be nil, in
// which case its routes are not registered.
func NewServer(cfg config.Server, chat relay.ChatRelay, leadService *leads.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	server := &Server{
		echo:   e,
		port:   cfg.Port,
		relay:  chat,
		leads:  leadService,
		logger: logging.Component("api"),
	}

	// Middleware
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			server.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))

	// Setup routes
	server.setupRoutes(cfg)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(cfg config.Server) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	if s.relay != nil {
		v1.POST("/chat", s.chat, chatRateLimiter(cfg))
	}

	if s.leads != nil {
		v1.POST("/leads", s.captureLead)
	}

	// Management routes return visitor contact details and carry no auth.
	if s.leads != nil && cfg.LeadAdmin {
		v1.GET("/leads", s.listLeads)
		v1.GET("/leads/:id", s.getLead)
		v1.PATCH("/leads/:id/status", s.updateLeadStatus)
		v1.DELETE("/leads/:id", s.deleteLead)
	}
}

// chatRateLimiter limits chat completions per client IP.
func chatRateLimiter(cfg config.Server) echo.MiddlewareFunc {
	limit := rate.Limit(cfg.ChatRate)
	if cfg.ChatRate <= 0 {
		limit = rate.Inf
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      limit,
			Burst:     cfg.ChatBurst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, relay.Response{Error: "Unable to identify client"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, relay.Response{Error: "Too many requests, please slow down"})
		},
	})
}

// ServeHTTP lets the server be mounted or exercised without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.port).Msg("API server listening")
		errCh <- s.echo.Start(fmt.Sprintf(":%d", s.port))
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info().Msg("shutting down API server")
	return s.echo.Shutdown(shutdownCtx)
}
