package delivery

import (
	"context"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"eventhub-realtime/internal/config"
	"eventhub-realtime/internal/messaging"
	"eventhub-realtime/internal/notify"
)

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

type Server struct {
	config    *config.Config
	auth      TokenAuthenticator
	hub       *Hub
	wsManager *WSManager
	messaging *messaging.Service
	notify    *notify.Service
	checks    map[string]HealthCheck
	logger    zerolog.Logger
	app       *fiber.App
}

func NewServer(
	cfg *config.Config,
	auth TokenAuthenticator,
	hub *Hub,
	wsManager *WSManager,
	messaging *messaging.Service,
	notify *notify.Service,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		config:    cfg,
		auth:      auth,
		hub:       hub,
		wsManager: wsManager,
		messaging: messaging,
		notify:    notify,
		checks:    make(map[string]HealthCheck),
		logger:    logger.With().Str("component", "http").Logger(),
	}
	s.app = s.buildApp()
	return s
}

// AddHealthCheck registers a check reported by GET /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) buildApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "EventHub Realtime",
		ErrorHandler:          errorHandler(s.logger),
		DisableStartupMessage: true,
	})

	app.Use(requestLogger(s.logger))
	app.Use(recover.New())

	corsConfig := cors.Config{
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		ExposeHeaders:    "Content-Length,Content-Type",
		AllowCredentials: s.config.AllowCredentials,
		MaxAge:           86400,
	}
	if s.config.IsProduction() {
		corsConfig.AllowOrigins = s.config.GetCORSOrigins()
		if corsConfig.AllowOrigins == "*" {
			corsConfig.AllowCredentials = false
		}
		s.logger.Info().Str("origins", corsConfig.AllowOrigins).Msg("CORS configured for production")
	} else {
		corsConfig.AllowOrigins = "*"
		corsConfig.AllowCredentials = false // Never allow credentials with wildcard origin
	}
	app.Use(cors.New(corsConfig))

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.registerRoutes(app)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	// Authentication happens over the socket, not during the handshake.
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		s.wsManager.HandleConnection(c)
	}))

	return app
}

func (s *Server) Start() error {
	s.logger.Info().Str("port", s.config.Port).Str("env", s.config.Environment).Msg("EventHub realtime server starting")
	return s.app.Listen(":" + s.config.Port)
}

// Serve runs on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
