package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/nerrad567/remote-lab-core/migrations"

	"github.com/nerrad567/remote-lab-core/internal/api"
	"github.com/nerrad567/remote-lab-core/internal/audit"
	"github.com/nerrad567/remote-lab-core/internal/device"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/config"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/database"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/logging"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/remote-lab-core/internal/toolchain"
)

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML file to load, or "" for defaults and environment only
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear start-up sequence with optional components
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting remote lab core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if configPath == "" {
		log.Info("no config file, using defaults and environment")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	// Reinitialise logger with config settings
	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close() //nolint:errcheck // nothing useful to do with a close error at exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	// Open database (sqlite store and/or audit trail)
	var db *database.DB
	if cfg.NeedsDatabase() {
		db, err = database.Open(ctx, database.Config{
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
	}

	// Initialise device store and registry
	store, closeStore, err := openStore(cfg, db)
	if err != nil {
		return fmt.Errorf("opening device store: %w", err)
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			log.Error("error closing device store", "error", closeErr)
		}
	}()

	registry := device.NewRegistry(store)
	registry.SetLogger(log.With("component", "device"))
	registry.SetStrictToolchainConfig(cfg.Devices.StrictToolchainConfig)

	stats, err := registry.Stats(ctx)
	if err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	log.Info("device registry initialised",
		"backend", cfg.Store.Backend,
		"devices", stats.Total,
		"configured", stats.Configured,
	)

	// Firmware toolchain. A missing binary is not fatal: device endpoints keep
	// working and firmware endpoints report the toolchain as unavailable.
	runner := newToolchain(cfg.Toolchain, log.With("component", "toolchain"))
	if probe, probeErr := runner.Probe(ctx); probeErr != nil {
		log.Warn("firmware toolchain unavailable", "binary", runner.Binary(), "error", probeErr)
	} else {
		log.Info("firmware toolchain found", "path", probe.Path, "version", probe.Version)
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		runner.SetObserver(influxClient)
		influxClient.WriteRegistryStats(stats)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Audit trail (optional, SQLite)
	var recorder *audit.Recorder
	var sqlDB *sql.DB
	if db != nil {
		sqlDB = db.DB
	}
	if cfg.Audit.Enabled {
		recorder = audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log.With("component", "audit"))
		log.Info("audit trail enabled")
	}

	if !cfg.AuthEnabled() {
		log.Warn("security.jwt.secret not set, API accepts unauthenticated requests")
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.With("component", "api"),
		Registry:  registry,
		Toolchain: runner,
		MQTT:      mqttClient,
		Influx:    influxClient,
		Audit:     recorder,
		DB:        sqlDB,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, InfluxDB, MQTT, device store, database

	return nil
}

// openStore creates the configured device store backend.
// The returned close function releases backend resources; the sqlite store
// shares db, which run closes separately.
func openStore(cfg *config.Config, db *database.DB) (device.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Backend {
	case config.StoreBackendSQLite:
		return device.NewSQLiteStore(db.DB), noop, nil
	case config.StoreBackendBolt:
		bs, err := device.OpenBoltStore(cfg.Store.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return bs, bs.Close, nil
	default:
		return device.NewMemoryStore(), noop, nil
	}
}

// newToolchain builds the runner from configuration.
// A zero probe_cache_ttl in the config means "probe before every command",
// which the runner expresses as a negative TTL.
func newToolchain(cfg config.ToolchainConfig, log *logging.Logger) *toolchain.Runner {
	ttl := cfg.ProbeCacheTTL
	if ttl == 0 {
		ttl = -1
	}
	runner := toolchain.New(toolchain.Config{
		Binary:          cfg.Binary,
		CommandTimeout:  cfg.CommandTimeout,
		ProbeTimeout:    cfg.ProbeTimeout,
		ProbeCacheTTL:   ttl,
		GracefulTimeout: cfg.GracefulTimeout,
	})
	runner.SetLogger(log)
	return runner
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if unused)
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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
