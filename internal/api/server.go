// Package api serves the engine over a local JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/grimoire/internal/engine"
	"github.com/p-blackswan/grimoire/internal/health"
	"github.com/p-blackswan/grimoire/internal/metrics"
	"github.com/p-blackswan/grimoire/internal/requestid"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr      string
	AuthConfig      AuthConfig
	RateLimit       RateLimitConfig
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// Server is the API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
	cancel context.CancelFunc
}

// NewServer creates and configures the API server. m may be nil.
func NewServer(
	cfg ServerConfig,
	eng *engine.Engine,
	checker *health.Checker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "api_server").Logger(),
		config: cfg,
		cancel: cancel,
	}

	s.setupMiddleware(ctx, cfg, m)
	s.setupRoutes(NewHandlers(eng, checker, logger), m)
	return s
}

func (s *Server) setupMiddleware(ctx context.Context, cfg ServerConfig, m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		reqCtx, reqID := requestid.Resolve(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(reqCtx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if len(cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(ctx, cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, s.logger))

	// Request log and metrics.
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		if m != nil {
			m.RecordHTTPRequest(c.Route().Path, strconv.Itoa(status))
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", requestid.FromContext(c.UserContext())).
			Msg("api request")
		return err
	})
}

func (s *Server) setupRoutes(h *Handlers, m *metrics.Metrics) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)
	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	v1 := s.app.Group("/api/v1")
	v1.Get("/state", h.GetState)

	v1.Get("/journal", h.ListJournal)
	v1.Post("/journal", h.AddJournalEntry)
	v1.Patch("/journal/:id", h.EditJournalEntry)
	v1.Delete("/journal/:id", h.DeleteJournalEntry)

	v1.Get("/tasks", h.ListTasks)
	v1.Post("/tasks", h.AddTask)
	v1.Post("/tasks/:id/toggle", h.ToggleTask)
	v1.Delete("/tasks/:id", h.DeleteTask)

	v1.Get("/moods", h.ListMoods)
	v1.Post("/moods", h.RecordMood)

	v1.Get("/rewards", h.GetRewards)
	v1.Get("/shop", h.GetShop)
	v1.Post("/shop/:id/purchase", h.Purchase)

	v1.Get("/creature", h.GetCreature)
	v1.Post("/creature", h.AdoptCreature)
	v1.Delete("/creature", h.ReleaseCreature)
	v1.Post("/creature/feed", h.FeedCreature)
	v1.Post("/creature/play", h.PlayWithCreature)
	v1.Get("/creature/chat", h.ChatHistory)
	v1.Post("/creature/chat", h.ChatWithCreature)

	v1.Get("/decrees", h.GetDecrees)
	v1.Post("/decrees/:id/toggle", h.ToggleDecree)

	v1.Get("/exams", h.GetExam)
	v1.Post("/exams", h.StartExam)
	v1.Post("/exams/:id/submit", h.SubmitExam)

	v1.Get("/quidditch", h.GetStandings)
	v1.Post("/quidditch/play", h.PlayMatch)

	v1.Get("/sorting", h.GetSortingQuiz)
	v1.Post("/sorting", h.Sort)
	v1.Delete("/sorting", h.LeaveHouse)

	v1.Post("/owl", h.AskOwl)
	v1.Get("/facts/random", h.RandomFact)

	v1.Get("/spawn", h.GetSpawn)
	v1.Post("/spawn/:id/claim", h.ClaimSpawn)

	v1.Post("/visibility", h.SetVisibility)
	v1.Post("/dialog", h.SetDialog)

	v1.Get("/settings", h.GetSettings)
	v1.Put("/settings", h.PutSettings)

	v1.Post("/reset", h.Reset)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:8787"
	}
	s.logger.Info().Str("addr", addr).Msg("api server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("api server shutting down")
	defer s.cancel()
	if s.config.ShutdownTimeout > 0 {
		return s.app.ShutdownWithTimeout(s.config.ShutdownTimeout)
	}
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		errType, title := "internal_error", "Internal Server Error"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			errType, title = "http_error", e.Message
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     errType,
			Title:    title,
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
