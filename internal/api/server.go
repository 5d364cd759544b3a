package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/device"
	"github.com/fastybird/fb-bus-connector/internal/extension"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/config"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Runtime is the running side of a connector. It is implemented by
// connector.Connector.
type Runtime interface {
	WriteProperty(registerID uuid.UUID, value any) error
	DiscoverDevices() error
	RemoveDevice(id uuid.UUID)
	IsPairing() bool
	IsStopped() bool
}

// Runtimes maps connector ids to their runtimes. Connectors without a
// runtime are served read-only.
type Runtimes struct {
	mu       sync.RWMutex
	runtimes map[string]Runtime
}

// NewRuntimes creates an empty set.
func NewRuntimes() *Runtimes {
	return &Runtimes{runtimes: make(map[string]Runtime)}
}

// Set attaches a runtime to a connector id. A nil runtime detaches it.
func (r *Runtimes) Set(connectorID string, rt Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt == nil {
		delete(r.runtimes, connectorID)
		return
	}
	r.runtimes[connectorID] = rt
}

// Get returns the runtime of a connector.
func (r *Runtimes) Get(connectorID string) (Runtime, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[connectorID]
	return rt, ok
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Extensions *extension.Registry
	Runtimes   *Runtimes

	// Hub is used instead of creating one when set, so it can be registered
	// as a connector consumer before the server starts.
	Hub *Hub

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	registry   *device.Registry
	extensions *extension.Registry
	runtimes   *Runtimes
	version    string
	server     *http.Server
	hub        *Hub
	wsPath     string
	ownHub     bool
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Extensions == nil {
		return nil, fmt.Errorf("extension registry is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		registry:   deps.Registry,
		extensions: deps.Extensions,
		runtimes:   deps.Runtimes,
		version:    deps.Version,
		hub:        deps.Hub,
		wsPath:     deps.WS.Path,
	}
	if s.wsPath == "" {
		s.wsPath = "/ws"
	}
	if s.runtimes == nil {
		s.runtimes = NewRuntimes()
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownHub = true
	}
	return s, nil
}

// Hub returns the WebSocket hub. Register it as a connector consumer to
// stream events to clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router. It is used by Start and by tests.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// A hub created by New runs until Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.ownHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
