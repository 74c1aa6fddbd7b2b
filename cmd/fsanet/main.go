// fsanet is the communication daemon for an FSA smart actuator network.
//
// It owns the UDP socket shared with every actuator, keeps the actuator
// registry current through the background loops, and publishes actuator
// state and daemon health over MQTT, with optional history in InfluxDB and
// a durable device inventory in SQLite.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fsanet/internal/fsa"
	"github.com/nerrad567/fsanet/internal/infrastructure/config"
	"github.com/nerrad567/fsanet/internal/infrastructure/database"
	"github.com/nerrad567/fsanet/internal/infrastructure/influxdb"
	"github.com/nerrad567/fsanet/internal/infrastructure/logging"
	"github.com/nerrad567/fsanet/internal/infrastructure/mqtt"
	"github.com/nerrad567/fsanet/internal/inventory"
	"github.com/nerrad567/fsanet/internal/telemetry"
	"github.com/nerrad567/fsanet/migrations"
)

// Set at build time via -ldflags "-X main.version=1.0.0 -X main.commit=abc123".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	healthCheckTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the daemon body, separated from main for testability. It returns
// nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fsanet", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

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
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	inv := inventory.NewSQLiteRepository(db.DB)
	log.Info("database ready", "path", cfg.Database.Path)

	codec, err := buildCodec(cfg.Fast.ByteOrder)
	if err != nil {
		return fmt.Errorf("building frame codec: %w", err)
	}

	registry, err := buildRegistry(cfg, log.Component("registry"))
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}
	log.Info("registry initialised", "actuators", registry.Len())

	transport, err := fsa.Listen(fsa.TransportConfig{LocalAddress: cfg.Network.LocalAddress})
	if err != nil {
		return fmt.Errorf("opening transport: %w", err)
	}
	transport.SetLogger(log.Component("transport"))
	defer func() {
		log.Info("closing transport")
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing transport", "error", closeErr)
		}
	}()
	log.Info("transport listening", "local_address", transport.LocalAddr().String())

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = startMQTT(cfg.MQTT, registry, log)
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

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	bg := fsa.NewSync(transport, registry, codec, syncConfig(cfg.Sync))
	bg.SetLogger(log.Component("sync"))

	reporterCfg := telemetry.ReporterConfig{
		Version:        version,
		Interval:       cfg.Telemetry.Interval,
		HealthInterval: cfg.Telemetry.HealthInterval,
		Registry:       registry,
		Transport:      transport,
		Sync:           bg,
		Inventory:      inv,
	}
	if mqttClient != nil {
		reporterCfg.Publisher = mqttClient
	}
	if influxClient != nil {
		reporterCfg.History = influxClient
	}
	reporter := telemetry.NewReporter(reporterCfg)
	reporter.SetLogger(log.Component("telemetry"))
	if err := reporter.PublishStarting(); err != nil {
		log.Warn("failed to publish starting status", "error", err)
	}

	if cfg.Discovery.Enabled {
		if err := runDiscovery(ctx, cfg, transport, registry, inv, reporter, log); err != nil {
			return err
		}
	}

	coordinator := fsa.NewCoordinator(fsa.Config{
		Transport: transport,
		Registry:  registry,
		Codec:     codec,
		Timeout:   cfg.Network.Timeout,
	})
	coordinator.SetLogger(log.Component("coordinator"))
	probeActuators(ctx, coordinator, registry, log)

	if cfg.Sync.SendEnabled || cfg.Sync.ReceiveEnabled {
		if err := bg.Start(ctx); err != nil {
			return fmt.Errorf("starting background loops: %w", err)
		}
		defer func() {
			log.Info("stopping background loops")
			bg.Stop()
		}()
		log.Info("background loops started",
			"send", cfg.Sync.SendEnabled,
			"receive", cfg.Sync.ReceiveEnabled,
			"poll", cfg.Sync.PollEnabled,
		)
	}

	reporter.Start(ctx)
	defer func() {
		log.Info("stopping telemetry reporter")
		reporter.Stop()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns FSANET_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("FSANET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildCodec turns the fast.byte_order section into a frame codec.
func buildCodec(orders map[string]string) (*fsa.FrameCodec, error) {
	overrides := make(map[fsa.Opcode]binary.ByteOrder, len(orders))
	for name, value := range orders {
		op, err := fsa.OpcodeByName(name)
		if err != nil {
			return nil, err
		}
		order, err := fsa.ParseByteOrder(value)
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", name, err)
		}
		overrides[op] = order
	}
	return fsa.NewFrameCodec(overrides), nil
}

// buildRegistry registers every configured actuator with its mode.
func buildRegistry(cfg *config.Config, logger fsa.Logger) (*fsa.Registry, error) {
	registry := fsa.NewRegistry(cfg.Network.LossThreshold)
	registry.SetLogger(logger)

	for _, a := range cfg.Actuators {
		if _, err := registry.Register(a.Address); err != nil {
			return nil, err
		}
		if err := registry.SetMode(a.Address, a.Enabled, a.Blocking, a.Fast); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func syncConfig(c config.SyncConfig) fsa.SyncConfig {
	return fsa.SyncConfig{
		SendEnabled:    c.SendEnabled,
		ReceiveEnabled: c.ReceiveEnabled,
		PollEnabled:    c.PollEnabled,
		IdleInterval:   c.IdleInterval,
		ReceiveTimeout: c.ReceiveTimeout,
		PollInterval:   c.PollInterval,
		ErrorPollEvery: c.ErrorPollEvery,
	}
}

// startMQTT connects to the broker and routes mode commands to the
// registry.
func startMQTT(cfg config.MQTTConfig, registry *fsa.Registry, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() { log.Info("MQTT connected") })

	commands := telemetry.NewCommandHandler(registry, log.Component("commands"))
	if err := client.Subscribe(mqtt.Topics{}.AllCommands(), byte(cfg.QoS), commands.Handle); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("subscribing to commands: %w", err)
	}

	log.Info("MQTT ready",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// runDiscovery broadcasts for devices, records every responder in the
// inventory and publishes the result. With auto_register, responders not
// already configured are added and enabled with blocking I/O.
func runDiscovery(ctx context.Context, cfg *config.Config, transport *fsa.Transport, registry *fsa.Registry,
	inv inventory.Repository, reporter *telemetry.Reporter, log *logging.Logger) error {
	found, err := fsa.Discover(ctx, transport, fsa.DiscoveryConfig{
		BroadcastAddress: cfg.Network.BroadcastAddress,
		Filter:           cfg.Discovery.Filter,
		Timeout:          cfg.Discovery.Timeout,
		MaxDuration:      cfg.Discovery.MaxDuration,
	}, log.Component("discovery"))
	if errors.Is(err, fsa.ErrNoResponders) {
		log.Warn("discovery found no devices", "broadcast", cfg.Network.BroadcastAddress)
		return nil
	}
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	log.Info("discovery complete", "found", len(found))

	if err := inv.Record(ctx, inventory.SightingsFromFound(found, time.Now())); err != nil {
		log.Error("failed to record discovered devices", "error", err)
	}
	if err := reporter.PublishDiscovery(found); err != nil {
		log.Warn("failed to publish discovery result", "error", err)
	}

	if !cfg.Discovery.AutoRegister {
		return nil
	}
	known := make(map[string]bool, registry.Len())
	for _, ep := range registry.Endpoints() {
		known[ep.Address()] = true
	}
	if _, err := fsa.RegisterFound(registry, found); err != nil {
		return fmt.Errorf("registering discovered devices: %w", err)
	}
	for _, f := range found {
		if known[f.Address] {
			continue
		}
		if err := registry.SetMode(f.Address, true, true, false); err != nil {
			return fmt.Errorf("enabling %s: %w", f.Address, err)
		}
		log.Info("registered discovered actuator", "address", f.Address, "type", f.Type)
	}
	return nil
}

// probeActuators reads the error code of every enabled actuator once and
// logs the ones that do not answer or report faults. Problems are logged,
// never fatal.
func probeActuators(ctx context.Context, coordinator *fsa.Coordinator, registry *fsa.Registry, log *logging.Logger) {
	var addrs []string
	for _, ep := range registry.Endpoints() {
		if ep.State() == fsa.StateActive {
			addrs = append(addrs, ep.Address())
		}
	}
	if len(addrs) == 0 {
		return
	}

	slots, err := coordinator.GetErrorGroup(ctx, addrs)
	if err != nil {
		log.Warn("startup probe failed", "error", err)
		return
	}
	answered := 0
	for _, s := range slots {
		switch {
		case s.Result != fsa.Success:
			log.Warn("actuator did not answer startup probe", "address", s.Address, "result", s.Result.String())
		case s.Value.Code.HasFault():
			answered++
			log.Warn("actuator reports faults", "address", s.Address, "faults", s.Value.Code.Faults())
		default:
			answered++
		}
	}
	log.Info("startup probe complete", "probed", len(slots), "answered", answered)
}

// healthCheck checks every connected backend concurrently and returns the
// first failure.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	if mqttClient != nil {
		g.Go(func() error {
			if err := mqttClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("mqtt: %w", err)
			}
			return nil
		})
	}
	if influxClient != nil {
		g.Go(func() error {
			if err := influxClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("influxdb: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
