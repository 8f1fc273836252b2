package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
	"github.com/nerrad567/autelis-bridge/internal/history"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// NodeReader provides read access to the node registry.
// *autelis.Registry satisfies it.
type NodeReader interface {
	List() []autelis.Node
	Get(id string) (autelis.Node, bool)
}

// BridgeStatus exposes engine health and the full-report trigger.
// *autelis.Engine satisfies it.
type BridgeStatus interface {
	Health() autelis.Health
	NodeCount() int
	RequestFullReport()
}

// CommandExecutor validates and submits host commands.
// *autelis.Gateway satisfies it.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd autelis.Command) (autelis.Receipt, error)
}

// HistoryReader reads recorded node history. *history.Repository satisfies it.
type HistoryReader interface {
	GetHistory(ctx context.Context, nodeID string, limit int) ([]history.Entry, error)
	GetCommands(ctx context.Context, nodeID string, limit int) ([]history.CommandEntry, error)
}

// ConnectionChecker reports transport connectivity, e.g. the MQTT client.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger

	Nodes    NodeReader
	Status   BridgeStatus
	Commands CommandExecutor

	// History is optional; history endpoints answer 503 without it.
	History HistoryReader

	// MQTT is optional and only reported by /health.
	MQTT ConnectionChecker

	// Gatherer is served at the metrics path when metrics are enabled.
	Gatherer prometheus.Gatherer

	// Hub is shared with the engine so node events reach WebSocket
	// clients. A hub is created when nil.
	Hub *Hub

	// CommandWait bounds how long a command request with "wait" blocks
	// for poll confirmation. Default: 15s.
	CommandWait time.Duration

	Version string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	metricsCfg  config.MetricsConfig
	logger      *logging.Logger
	nodes       NodeReader
	status      BridgeStatus
	commands    CommandExecutor
	history     HistoryReader
	mqtt        ConnectionChecker
	gatherer    prometheus.Gatherer
	commandWait time.Duration
	version     string
	startTime   time.Time

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Nodes == nil || deps.Status == nil {
		return nil, fmt.Errorf("node registry and bridge status are required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command executor is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		metricsCfg:  deps.Metrics,
		logger:      deps.Logger,
		nodes:       deps.Nodes,
		status:      deps.Status,
		commands:    deps.Commands,
		history:     deps.History,
		mqtt:        deps.MQTT,
		gatherer:    deps.Gatherer,
		commandWait: deps.CommandWait,
		version:     deps.Version,
		startTime:   time.Now(),
		hub:         deps.Hub,
	}
	if s.commandWait <= 0 {
		s.commandWait = 15 * time.Second
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// The listener is bound synchronously so port conflicts are returned here;
// requests are served on a background goroutine until Close().
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

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
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
