// Gray Logic Relay - cloud bridge for Gray Logic home gateways
//
// The relay keeps one WebSocket session per paired gateway and lets
// signed-in users reach their homes through it:
//   - Pairing codes that turn into per-gateway credentials
//   - Remote commands with request/reply correlation
//   - Home metadata synced from the gateway
//
// Configuration is read from YAML (see configs/config.yaml) with
// GRAYLOGIC_* environment overrides.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/gray-logic-relay/migrations"

	"github.com/nerrad567/gray-logic-relay/internal/api"
	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/auth"
	"github.com/nerrad567/gray-logic-relay/internal/bridge"
	"github.com/nerrad567/gray-logic-relay/internal/cloudbus"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
	"github.com/nerrad567/gray-logic-relay/internal/homes"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-relay/internal/pairing"
	"github.com/nerrad567/gray-logic-relay/internal/telemetry"
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

// options holds the parsed command line.
type options struct {
	configPath  string
	showVersion bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("graylogic-relay %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path falls back to
// GRAYLOGIC_CONFIG and then to the default path.
func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("graylogic-relay", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (env GRAYLOGIC_CONFIG)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Relay",
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

	// Background workers outlive ctx so they can drain what the shutdown
	// sequence itself produces (session-closed events, audit entries).
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	defer func() {
		stopWorkers()
		workers.Wait()
	}()
	goWorker := func(fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(workerCtx)
		}()
	}

	// Domain services
	authz := auth.NewAuthorizer(auth.NewPermissionRepository(db.DB))

	gateways := gateway.NewRegistry(gateway.NewSQLiteRepository(db.DB))
	gateways.SetLogger(log.Component("gateway"))

	coordinator := pairing.NewCoordinator(db, authz, gateways, pairing.Config{
		CodeLength:    cfg.Pairing.CodeLength,
		DefaultExpiry: config.Minutes(cfg.Pairing.DefaultExpiryMinutes),
		MaxExpiry:     config.Minutes(cfg.Pairing.MaxExpiryMinutes),
	})
	coordinator.SetLogger(log.Component("pairing"))

	homeStore := homes.NewStore(db)
	homeStore.SetLogger(log.Component("homes"))

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, audit.DefaultQueueSize)
	recorder.SetLogger(log.Component("audit"))

	manager := bridge.NewManager(gateways, bridge.ConfigFrom(cfg.Bridge))
	manager.SetLogger(log.Component("bridge"))
	manager.SetSyncHandler(homeStore)
	manager.AddObserver(recorder.BridgeObserver())

	// MQTT fan-out (optional)
	var mqttClient *mqtt.Client
	var bus *cloudbus.Bus
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		bus = cloudbus.New(mqttClient, manager)
		bus.SetLogger(log.Component("cloudbus"))
		bus.SetAuditor(recorder)
		manager.AddObserver(bus)
		if startErr := bus.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT command ingress: %w", startErr)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		manager.AddObserver(telemetry.NewObserver(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	// Workers
	goWorker(recorder.Run)
	goWorker(manager.Run)
	goWorker(func(ctx context.Context) {
		coordinator.Run(ctx, config.Seconds(cfg.Pairing.CleanupInterval))
	})
	if bus != nil {
		goWorker(bus.Run)
	}

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Bridge:     cfg.Bridge,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Manager:    manager,
		Gateways:   gateways,
		Pairing:    coordinator,
		Authorizer: authz,
		Homes:      homeStore,
		Audit:      recorder,
		AuditRepo:  auditRepo,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		server.Close() //nolint:errcheck // already failing
		manager.Close()
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"bridge_path", cfg.Bridge.Path,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Stop accepting requests, then close sessions so their close events
	// reach the workers before those are stopped by the deferred cleanup.
	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}
	if bus != nil {
		if stopErr := bus.Stop(); stopErr != nil {
			log.Warn("error stopping MQTT command ingress", "error", stopErr)
		}
	}
	log.Info("closing bridge sessions", "sessions", manager.Count())
	manager.Close()

	// Drain the audit queue and MQTT outbox while the broker is still up.
	stopWorkers()
	workers.Wait()

	log.Info("Gray Logic Relay stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Checks GRAYLOGIC_CONFIG environment variable first, falls back to default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
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
