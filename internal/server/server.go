package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/docstream/internal/api"
	"github.com/jackzampolin/docstream/internal/config"
	"github.com/jackzampolin/docstream/internal/engine"
	"github.com/jackzampolin/docstream/internal/engine/container"
	"github.com/jackzampolin/docstream/internal/home"
	"github.com/jackzampolin/docstream/internal/jobs"
	"github.com/jackzampolin/docstream/internal/ocr"
	"github.com/jackzampolin/docstream/internal/pages"
	"github.com/jackzampolin/docstream/internal/pipeline"
	"github.com/jackzampolin/docstream/internal/recovery"
	"github.com/jackzampolin/docstream/internal/server/endpoints"
	"github.com/jackzampolin/docstream/internal/stream"
	"github.com/jackzampolin/docstream/internal/svcctx"
)

const (
	feedBuffer      = 64
	shutdownTimeout = 30 * time.Second
)

// Server is the main docstream HTTP server.
// When the container section is enabled it also owns the inference
// container, starting it on server start and stopping it on shutdown.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	container  *container.Manager
	engine     engine.Engine
	executor   *jobs.Executor
	registry   *jobs.Registry
	home       *home.Dir
	configMgr  *config.Manager
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: server.host from config)
	Host string
	// Port is the port to listen on (default: server.port from config)
	Port string
	// Home is the docstream home directory
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Engine overrides the engine built from config (used by tests)
	Engine engine.Engine
	// Logger is the structured logger to use
	Logger *slog.Logger
	// LogLevel, when set, follows log.level across config reloads
	LogLevel *slog.LevelVar
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := cfg.ConfigManager.Get()
	if cfg.Host == "" {
		cfg.Host = c.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = c.Server.Port
	}

	s := &Server{
		home:      cfg.Home.WithStorage(c.Storage.UploadsDir, c.Storage.OutputsDir),
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	engineCfg := c.Engine
	if cfg.Engine == nil && c.Container.Enabled {
		mgr, err := container.New(container.Config{
			Name:         c.Container.Name,
			Image:        c.Container.Image,
			Model:        c.Engine.Model,
			HostPort:     c.Container.Port,
			GPUs:         c.Container.GPUs,
			ModelCache:   c.Container.ModelCache,
			ReadyTimeout: c.Container.ReadyTimeout,
			Logger:       cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create container manager: %w", err)
		}
		s.container = mgr
		engineCfg.BaseURL = mgr.URL()
	}

	s.engine = cfg.Engine
	if s.engine == nil {
		eng, err := engine.New(engineCfg, cfg.Logger)
		if err != nil {
			s.closeContainer()
			return nil, err
		}
		s.engine = eng
	}

	if err := s.buildServices(c); err != nil {
		s.closeContainer()
		return nil, err
	}

	if cfg.LogLevel != nil {
		cfg.LogLevel.Set(ParseLevel(c.Log.Level))
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			cfg.LogLevel.Set(ParseLevel(c.Log.Level))
			cfg.Logger.Info("log level reloaded from config", "level", c.Log.Level)
		})
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		MaxUploadBytes:    c.Upload.MaxUploadBytes(),
		AllowedExtensions: c.Upload.AllowedExtensions,
	}) {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, nil)

	// No WriteTimeout: SSE responses stay open for the whole job.
	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     withCORS(s.withServices(mux)),
		ReadTimeout: c.Server.ReadTimeout,
		IdleTimeout: c.Server.IdleTimeout,
	}

	return s, nil
}

// buildServices wires the job machinery from the loaded config.
func (s *Server) buildServices(c *config.Config) error {
	renderer, err := pages.NewRenderer(c.Pipeline.Renderer, c.Pipeline.RenderDPI, s.logger)
	if err != nil {
		return err
	}

	feed := jobs.NewFeed(feedBuffer, s.logger)
	s.registry = jobs.NewRegistry(jobs.RegistryConfig{Logger: s.logger, Feed: feed})
	s.executor = jobs.NewExecutor(jobs.ExecutorConfig{
		Name:        s.engine.Name(),
		Logger:      s.logger,
		WorkerCount: c.Engine.Workers,
	})

	pipe := pipeline.New(pipeline.Config{
		Engine:   s.engine,
		Executor: s.executor,
		Recoverer: recovery.New(recovery.Options{
			FileTimeout: c.Pipeline.MaterializeTimeout,
			ScanTimeout: c.Pipeline.ScanTimeout,
			Interval:    c.Pipeline.MaterializeInterval,
			Exclude:     []string{pipeline.StreamFile},
			Logger:      s.logger,
		}),
		MaterializeTimeout:  c.Pipeline.MaterializeTimeout,
		MaterializeInterval: c.Pipeline.MaterializeInterval,
		PageYield:           c.Pipeline.PageYield,
		RenderHTML:          c.Pipeline.RenderHTML,
		Logger:              s.logger,
	})

	svc, err := ocr.NewService(ocr.ServiceConfig{
		Pipeline:          pipe,
		Renderer:          renderer,
		AllowedExtensions: c.Upload.AllowedExtensions,
		Logger:            s.logger,
	})
	if err != nil {
		return err
	}

	mux := stream.NewMultiplexer(stream.MultiplexerConfig{
		Registry:     s.registry,
		Processor:    svc,
		OutputsRoot:  s.home.OutputsPath(),
		PollInterval: c.Pipeline.PollInterval,
		Logger:       s.logger,
	})

	s.services = &svcctx.Services{
		Registry:      s.registry,
		Executor:      s.executor,
		Feed:          feed,
		OCR:           svc,
		Multiplexer:   mux,
		Engine:        s.engine,
		ConfigManager: s.configMgr,
		Logger:        s.logger,
		Home:          s.home,
	}
	return nil
}

// Start starts the server, and the inference container when configured.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to prepare home directory: %w", err)
	}

	if s.container != nil {
		s.logger.Info("starting inference container", "url", s.container.URL())
		if err := s.container.Start(ctx); err != nil {
			s.setNotRunning()
			return fmt.Errorf("failed to start inference container: %w", err)
		}
	}

	if !s.engine.Ready(ctx) {
		s.logger.Warn("inference engine not reachable yet, requests will fail until it is", "engine", s.engine.Name())
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	execCtx, stopExecutor := context.WithCancel(context.Background())
	defer stopExecutor()
	go s.executor.Start(execCtx)

	// Serve in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown stops the HTTP server, cancels in-flight jobs and stops the container.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Open streams hold their handlers until their job ends.
	for _, info := range s.registry.List() {
		_ = s.registry.Cancel(info.ID)
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.container != nil {
		s.logger.Info("stopping inference container")
		if err := s.container.Stop(shutdownCtx); err != nil {
			s.logger.Error("inference container stop error", "error", err)
		}
	}
	s.closeContainer()

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeContainer() {
	if s.container == nil {
		return
	}
	if err := s.container.Close(); err != nil {
		s.logger.Error("container manager close error", "error", err)
	}
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address. Once started it reports the
// bound address, so port "0" resolves to the chosen port.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Executor returns the inference executor. It only runs work after Start.
func (s *Server) Executor() *jobs.Executor {
	return s.executor
}

// Registry returns the in-flight job registry.
func (s *Server) Registry() *jobs.Registry {
	return s.registry
}

// Endpoints returns the endpoint registry, used to build CLI commands.
func (s *Server) Endpoints() *api.Registry {
	return s.endpointRegistry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withCORS allows any origin, answering preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ParseLevel maps a log.level value to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
