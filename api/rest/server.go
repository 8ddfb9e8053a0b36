// Package rest provides the HTTP control surface of the engine.
package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/vidinsight-labs/Axion/pkg/types"
)

// EngineAPI is the slice of the engine the HTTP surface needs.
type EngineAPI interface {
	SubmitTask(task *types.Task) (string, error)
	SubmitWorkflow(tasks []*types.Task) ([]string, error)
	GetResult(taskID string, timeout time.Duration) (*types.Result, error)
	GetStatus() *types.SystemStatus
	GetComponentStatus(name string) (*types.ComponentStatus, error)
	GetHealth() *types.SystemHealth
	IsRunning() bool
}

// Config holds the HTTP server configuration.
type Config struct {
	// Address is the listen address (e.g. ":8080").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the REST API server.
type Server struct {
	app    *fiber.App
	engine EngineAPI
	config *Config
}

// NewServer creates the server and registers its routes.
func NewServer(engine EngineAPI, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
	})
	app.Use(fiberrecover.New())

	s := &Server{
		app:    app,
		engine: engine,
		config: cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.liveness)

	v1 := s.app.Group("/api/v1")
	v1.Post("/tasks", s.submitTask)
	v1.Post("/workflows", s.submitWorkflow)
	v1.Get("/tasks/:id/result", s.getResult)
	v1.Get("/status", s.getStatus)
	v1.Get("/status/:component", s.getComponentStatus)
	v1.Get("/healthz", s.getHealth)
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
