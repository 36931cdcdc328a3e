// smarthome-bridge is the device control and telemetry bridge of the
// smart-home dashboard.
//
// It accepts sensor telemetry from ESP32 boards over HTTP or MQTT, keeps the
// latest reading per device, queues desired actuator state for devices to
// poll, and can instead proxy the dashboard endpoints to a remote deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"

	_ "github.com/nerrad567/smarthome-bridge/migrations"

	"github.com/nerrad567/smarthome-bridge/internal/api"
	"github.com/nerrad567/smarthome-bridge/internal/bridge"
	"github.com/nerrad567/smarthome-bridge/internal/control"
	"github.com/nerrad567/smarthome-bridge/internal/device"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/config"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/database"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/smarthome-bridge/internal/metrics"
	"github.com/nerrad567/smarthome-bridge/internal/remote"
	"github.com/nerrad567/smarthome-bridge/internal/telemetry"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
)

// options are the command line settings. Each flag can also be set through
// SMARTHOME_<FLAG>, e.g. SMARTHOME_CONFIG or SMARTHOME_ENV_FILE.
type options struct {
	configPath string
	envFile    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("smarthome-bridge", flag.ContinueOnError)

	var opts options
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "YAML configuration file (empty for defaults and environment only)")
	fs.StringVar(&opts.envFile, "env-file", defaultEnvFile, "dotenv file loaded before the configuration")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(config.EnvPrefix)); err != nil {
		return options{}, fmt.Errorf("parsing flags: %w", err)
	}
	return opts, nil
}

// run is the application logic, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on clean shutdown.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting smarthome-bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Best-effort flush on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := device.NewRegistry(device.NewSQLiteRepository(db), provisioning(cfg.Home))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	controls := control.NewQueue()

	service := telemetry.NewService(registry, telemetry.NewSQLiteStore(db), nil, telemetry.Options{
		DefaultDevice: cfg.Telemetry.DefaultDevice,
		FallbackLimit: cfg.Telemetry.FallbackLimit,
	})
	service.SetLogger(log)

	deps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		DefaultDevice: cfg.Telemetry.DefaultDevice,
		Logger:        log,
		Registry:      registry,
		Telemetry:     service,
		Controls:      controls,
		DB:            db,
		Version:       version,
	}

	// InfluxDB mirror (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		service.AddListener(mirrorToInflux(influxClient))
		deps.InfluxDB = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT device bridge (optional, local mode only)
	switch {
	case !cfg.MQTT.Enabled:
		log.Info("MQTT disabled")
	case !mqttBridgeEnabled(cfg):
		log.Warn("MQTT bridge skipped in remote mode; devices must use the upstream broker",
			"remote", cfg.Remote.BaseURL)
	default:
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		br := bridge.New(mqttClient, service, byte(cfg.MQTT.QoS)) // #nosec G115 -- qos validated to 0..2
		br.SetLogger(log)
		if startErr := br.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		service.AddListener(br.OnIngest)
		deps.MQTT = mqttClient
		deps.Publisher = br
	}

	// Remote proxy (thin client mode)
	if cfg.Remote.Enabled {
		remoteClient, newErr := remote.New(remote.Config{
			BaseURL:  cfg.Remote.BaseURL,
			APIToken: cfg.Remote.APIToken,
			Timeout:  cfg.GetRemoteTimeout(),
		})
		if newErr != nil {
			return fmt.Errorf("configuring remote proxy: %w", newErr)
		}
		remoteClient.SetLogger(log)
		deps.Remote = remoteClient
		log.Info("remote proxy enabled", "base_url", remoteClient.BaseURL())
	}

	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	metrics.Init(metrics.Sources{
		CachedDevices:  service.Cache().Len,
		ControlDevices: func() int { return len(controls.Devices()) },
		WSClients:      srv.Hub().ClientCount,
	})

	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, deps.MQTT, deps.InfluxDB); err != nil {
		log.Warn("startup health check failed", "error", err)
	}

	log.Info("smarthome-bridge started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"mode", srv.Mode(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, stopping...")

	return nil
}

// provisioning maps the home section onto the registry's auto-provisioning
// values.
// mqttBridgeEnabled reports whether MQTT ingest and control publishing run.
// In remote mode readings belong to the upstream deployment, so a local
// bridge would write them to a store the dashboard never reads.
func mqttBridgeEnabled(cfg *config.Config) bool {
	return cfg.MQTT.Enabled && !cfg.Remote.Enabled
}

func provisioning(h config.HomeConfig) device.Provisioning {
	p := device.DefaultProvisioning()
	p.HomeName = h.Name
	if h.Timezone != "" {
		p.HomeTimezone = h.Timezone
	}
	p.GatewayHardwareID = h.GatewayHardwareID
	if h.GatewayName != "" {
		p.GatewayName = h.GatewayName
	}
	return p
}

// readingWriter is the part of the InfluxDB client the mirror uses.
type readingWriter interface {
	WriteReading(device, measure, unit string, value float64, at time.Time)
	WriteState(device, state string, at time.Time)
}

// mirrorToInflux copies every committed reading and state change to InfluxDB.
// Writes are batched asynchronously by the client.
func mirrorToInflux(w readingWriter) telemetry.Listener {
	return func(snap telemetry.Snapshot, readings []telemetry.Reading) {
		for _, r := range readings {
			w.WriteReading(r.Device, string(r.Measure), r.Unit, r.Value, r.Timestamp)
		}
		if snap.State != nil {
			w.WriteState(snap.Device, string(*snap.State), snap.Timestamp)
		}
	}
}

// healthCheck verifies the infrastructure connections that are enabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
