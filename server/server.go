// Package server exposes the engine's view functions over HTTP and its event stream
// over a websocket, for the projection service and any other read-side consumer. All
// state changes enter the engine through the execution environment, never through this
// server.
package server

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	purge "pkg.purge.dev/purge-engine"
)

const defaultPort = "4040"

type Server struct {
	app    *fiber.App
	eng    *purge.Engine
	port   string
	logger zerolog.Logger
}

type Option func(*Server)

// WithPort overrides the listen port.
func WithPort(port string) Option {
	return func(s *Server) {
		s.port = port
	}
}

func New(eng *purge.Engine, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           5 * time.Second,
		}),
		eng:    eng,
		port:   defaultPort,
		logger: logger.With().Str("component", "server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Post("/query/tier-state", s.handleTierState)
	s.app.Post("/query/scan-status", s.handleScanStatus)
	s.app.Post("/query/pending-reward", s.handlePendingReward)
	s.app.Post("/query/is-eliminated", s.handleIsEliminated)

	if hub := s.eng.EventHub(); hub != nil {
		s.app.Use("/events", func(ctx *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(ctx) {
				return ctx.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		s.app.Get("/events", websocket.New(hub.WebSocketHandler()))
	}
}

// Serve blocks until Shutdown is called or the listener fails.
func (s *Server) Serve() error {
	s.logger.Info().Str("port", s.port).Msg("serving")
	return eris.Wrap(s.app.Listen(":"+s.port), "server stopped")
}

func (s *Server) Shutdown() error {
	return eris.Wrap(s.app.Shutdown(), "server shutdown")
}

// App returns the underlying fiber app. Used by in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}
