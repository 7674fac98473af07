// Studio Core - broadcast studio control hub
//
// This is the main entry point for the Studio Core application. It keeps
// live connections to the studio's production hardware (vision mixers,
// video routers, audio interfaces, network switches, modems, UPS units and
// smart plugs), combines the mixers' tallies, and publishes consolidated
// state over MQTT and a WebSocket/REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nerrad567/studio-core/internal/api"
	"github.com/nerrad567/studio-core/internal/broadcast"
	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/infrastructure/config"
	"github.com/nerrad567/studio-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/studio-core/internal/infrastructure/logging"
	"github.com/nerrad567/studio-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/studio-core/internal/tally"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, args []string) error {
	configPath, err := parseFlags(args)
	if err != nil {
		return err
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Studio Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	for _, w := range cfg.Warnings() {
		log.Warn("configuration warning", "warning", w)
	}

	// Device registry and adapters
	registry := device.NewRegistry()
	registry.SetLogger(log)

	devices, err := buildDevices(cfg, registry, log)
	if err != nil {
		return fmt.Errorf("building devices: %w", err)
	}
	log.Info("device registry initialised", "devices", len(devices))

	// Broadcast fan-out must observe devices before they start so that no
	// connection edge is missed.
	svc := broadcast.New(registry, tally.NewRoster(rosterUsers(cfg.Users)), log)
	svc.Start()
	defer svc.Stop()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = startMQTT(ctx, cfg, registry, svc, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		svc.SetTelemetry(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API and WebSocket hub
	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Registry:  registry,
		Broadcast: svc,
		Version:   version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Start adapters last; each owns its connection goroutine.
	for _, d := range devices {
		d.Start(ctx)
	}
	defer stopDevices(devices, log)

	if err := healthCheck(ctx, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: devices, API, InfluxDB, MQTT,
	// broadcast subscriptions.
	return nil
}

// parseFlags reads the command line. The config path comes from --config,
// then STUDIOCORE_CONFIG, then the default.
func parseFlags(args []string) (string, error) {
	fs := pflag.NewFlagSet("studiocore", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the YAML configuration file (env STUDIOCORE_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *configPath != "" {
		return *configPath, nil
	}
	return getConfigPath(), nil
}

// getConfigPath returns the configuration file path.
// Uses STUDIOCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("STUDIOCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startMQTT connects to the broker, routes broadcast messages to it and
// accepts commands from it.
func startMQTT(ctx context.Context, cfg *config.Config, registry *device.Registry, svc *broadcast.Service, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"prefix", client.Topics().Prefix,
	)

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	publisher := broadcast.NewMQTTPublisher(client, log)
	go publisher.Run(ctx)
	svc.AddPublisher(publisher)

	if err := broadcast.SubscribeCommands(client, registry, log); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("subscribing to MQTT commands: %w", err)
	}
	return client, nil
}

// stopDevices stops every adapter and waits for its goroutines.
func stopDevices(devices []device.Device, log *logging.Logger) {
	log.Info("stopping devices", "count", len(devices))
	for i := len(devices) - 1; i >= 0; i-- {
		devices[i].Stop()
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Disabled transports are nil and skipped.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
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

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
