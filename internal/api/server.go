package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/smarthome-bridge/internal/control"
	"github.com/nerrad567/smarthome-bridge/internal/device"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/config"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/database"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/smarthome-bridge/internal/remote"
	"github.com/nerrad567/smarthome-bridge/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deployment modes reported by the health endpoint.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// ControlPublisher pushes a device's desired state to the device side.
// The MQTT bridge implements it.
type ControlPublisher interface {
	PublishControls(state control.State) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	DefaultDevice string
	Logger        *logging.Logger
	Registry      *device.Registry
	Telemetry     *telemetry.Service
	Controls      *control.Queue
	Remote        *remote.Client   // nil serves telemetry and control locally
	Publisher     ControlPublisher // optional
	MQTT          *mqtt.Client     // optional, reported by /api/system
	InfluxDB      *influxdb.Client // optional, reported by /api/system
	DB            *database.DB     // optional, reported by /api/system
	Version       string
}

// Server is the HTTP API server of the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	defaultDevice string
	logger        *logging.Logger
	registry      *device.Registry
	telemetry     *telemetry.Service
	controls      *control.Queue
	remote        *remote.Client
	publisher     ControlPublisher
	mqtt          *mqtt.Client
	influx        *influxdb.Client
	db            *database.DB
	version       string
	startTime     time.Time
	server        *http.Server
	hub           *Hub
	cancel        context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. Ingested telemetry is
// relayed to WebSocket clients from the moment New returns.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry service is required")
	}
	if deps.Controls == nil {
		return nil, fmt.Errorf("control queue is required")
	}
	if deps.DefaultDevice == "" {
		deps.DefaultDevice = "esp32-1"
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		defaultDevice: deps.DefaultDevice,
		logger:        deps.Logger,
		registry:      deps.Registry,
		telemetry:     deps.Telemetry,
		controls:      deps.Controls,
		remote:        deps.Remote,
		publisher:     deps.Publisher,
		mqtt:          deps.MQTT,
		influx:        deps.InfluxDB,
		db:            deps.DB,
		version:       deps.Version,
		startTime:     time.Now(),
		hub:           NewHub(deps.WS, deps.Logger),
	}

	s.telemetry.AddListener(func(snap telemetry.Snapshot, _ []telemetry.Reading) {
		s.hub.Broadcast(EventTelemetryIngested, snap.Device, snap)
	})

	return s, nil
}

// Mode reports whether telemetry and control are served locally or proxied.
func (s *Server) Mode() string {
	if s.remote != nil {
		return ModeRemote
	}
	return ModeLocal
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
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
				"mode", s.Mode(),
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr, "mode", s.Mode())
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
