package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/nsm-core/internal/asyncop"
	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/health"
	"github.com/nerrad567/nsm-core/internal/infrastructure/config"
	"github.com/nerrad567/nsm-core/internal/infrastructure/logging"
	"github.com/nerrad567/nsm-core/internal/nsm"
	"github.com/nerrad567/nsm-core/internal/passthrough"
	"github.com/nerrad567/nsm-core/internal/requester"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ExchangeStats reports per-endpoint correlator counters.
// *requester.Requester satisfies it.
type ExchangeStats interface {
	Stats(eid uint8) requester.Stats
	AllStats() map[uint8]requester.Stats
}

// Passthrough sends raw commands. *passthrough.Executor satisfies it.
type Passthrough interface {
	Execute(ctx context.Context, uuid string, msgType nsm.MessageType, command uint8, payload []byte) (passthrough.Result, error)
}

// HealthSource builds the health report. *health.Reporter satisfies it.
type HealthSource interface {
	Snapshot(ctx context.Context) health.Report
}

// ConnectionState reports whether an optional link is up.
type ConnectionState interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *device.Registry

	// Optional collaborators. A nil value disables the routes that need it.
	Exchanges   ExchangeStats
	Operations  *asyncop.Operations
	Passthrough Passthrough
	Health      HealthSource
	MQTT        ConnectionState
	DB          *sql.DB
	Version     string
}

// Server is the HTTP API server for nsmd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The hub exists from New onwards so the server can be registered as a
// sensor sink, event forwarder and operation notifier before Start.
type Server struct {
	cfg         config.APIConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	registry    *device.Registry
	exchanges   ExchangeStats
	operations  *asyncop.Operations
	passthrough Passthrough
	health      HealthSource
	mqtt        ConnectionState
	db          *sql.DB
	version     string
	startTime   time.Time

	readings *readingCache
	hub      *Hub
	server   *http.Server
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry) plus optional ones
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	return &Server{
		cfg:         deps.Config,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		registry:    deps.Registry,
		exchanges:   deps.Exchanges,
		operations:  deps.Operations,
		passthrough: deps.Passthrough,
		health:      deps.Health,
		mqtt:        deps.MQTT,
		db:          deps.DB,
		version:     deps.Version,
		startTime:   time.Now(),
		readings:    newReadingCache(),
		hub:         NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context bounding the hub's lifetime
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
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

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }
