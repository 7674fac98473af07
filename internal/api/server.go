// Package api provides the HTTP REST API and WebSocket server for Studio Core.
//
// It exposes device status, commands, the combined tally and the user
// roster to operator consoles and tally clients.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/studio-core/internal/broadcast"
	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/infrastructure/config"
	"github.com/nerrad567/studio-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionStatus reports whether an optional transport is up.
// It is satisfied by *mqtt.Client and *influxdb.Client.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Registry  *device.Registry
	Broadcast *broadcast.Service
	MQTT      ConnectionStatus // optional
	InfluxDB  ConnectionStatus // optional
	Version   string
}

// Server is the HTTP API server for Studio Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *device.Registry
	broadcast *broadcast.Service
	mqtt      ConnectionStatus
	influx    ConnectionStatus
	version   string
	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub is created here and registered as a broadcast publisher,
// so events emitted before Start are not lost to clients that connect later
// (they receive a snapshot on subscribe).
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Broadcast == nil {
		return nil, fmt.Errorf("broadcast service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		broadcast: deps.Broadcast,
		mqtt:      deps.MQTT,
		influx:    deps.InfluxDB,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.SetSnapshot(s.snapshot)
	s.broadcast.AddPublisher(s.hub)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// The listener is bound synchronously so that a port already in use is
// reported to the caller. Requests are served in a background goroutine
// until Close is called.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		addr := s.server.Addr
		s.cancel()
		s.server = nil
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
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

	// Cancel background goroutines (hub)
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

// HealthCheck verifies the API server is running and responsive.
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

// snapshot returns the current state of a channel for a newly subscribed
// WebSocket client.
func (s *Server) snapshot(channel string) []broadcast.Message {
	switch channel {
	case broadcast.ChannelTallies:
		return []broadcast.Message{{Channel: channel, Payload: s.broadcast.Tallies()}}
	case broadcast.ChannelUsers:
		return []broadcast.Message{{Channel: channel, Payload: s.broadcast.Users()}}
	}

	for _, t := range device.AllTypes {
		if channel != broadcast.StatusChannel(t) {
			continue
		}
		devices := s.registry.ByType(t)
		out := make([]broadcast.Message, 0, len(devices))
		for _, d := range devices {
			out = append(out, broadcast.Message{
				Channel: channel,
				Type:    t,
				Device:  d.Name(),
				Payload: d.Status(),
			})
		}
		return out
	}
	return nil
}
