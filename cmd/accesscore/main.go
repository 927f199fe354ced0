// Access Core - Physical Access Control Service
//
// This is the main entry point for the access-core service. It wires
// together the door lock arbiter, the durable command outbox polled by
// door controllers, the webhook dispatcher, and the management API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/henryv2be-prog/access-core/migrations"

	"github.com/henryv2be-prog/access-core/internal/access"
	"github.com/henryv2be-prog/access-core/internal/api"
	"github.com/henryv2be-prog/access-core/internal/audit"
	"github.com/henryv2be-prog/access-core/internal/infrastructure/config"
	"github.com/henryv2be-prog/access-core/internal/infrastructure/database"
	"github.com/henryv2be-prog/access-core/internal/infrastructure/influxdb"
	"github.com/henryv2be-prog/access-core/internal/infrastructure/logging"
	"github.com/henryv2be-prog/access-core/internal/infrastructure/mqtt"
	"github.com/henryv2be-prog/access-core/internal/lock"
	"github.com/henryv2be-prog/access-core/internal/outbox"
	"github.com/henryv2be-prog/access-core/internal/webhook"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting access-core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
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

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	commandRepo := outbox.NewSQLiteRepository(db.DB)
	subscriptionRepo := webhook.NewSQLiteSubscriptionRepository(db.DB)
	deliveryRepo := webhook.NewSQLiteDeliveryRepository(db.DB)
	grantRepo := access.NewSQLiteGrantRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Door lock arbiter with background stale-lock sweeper
	arbiter := lock.New(cfg.GetLockIdleTimeout(), cfg.GetLockSweepInterval())
	arbiter.SetLogger(log)
	arbiter.Start(ctx)
	defer arbiter.Close()
	log.Info("lock arbiter started",
		"idle_timeout", cfg.GetLockIdleTimeout(),
		"sweep_interval", cfg.GetLockSweepInterval(),
	)

	// Connect to MQTT broker (optional event mirror)
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
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional metrics sink)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub is created up front so the dispatcher can broadcast
	// delivery updates; the API server reuses it instead of making its own.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Webhook dispatcher: re-arms persisted retries on Start
	dispatcher := webhook.NewDispatcher(subscriptionRepo, deliveryRepo, log)
	dispatcher.SetHub(hub)
	dispatcher.SetAuditRepository(auditRepo)
	if mqttClient != nil {
		dispatcher.SetEventMirror(mqttClient)
	}
	if influxClient != nil {
		dispatcher.SetMetrics(influxClient)
	}
	if startErr := dispatcher.Start(ctx); startErr != nil {
		return fmt.Errorf("starting webhook dispatcher: %w", startErr)
	}
	defer func() {
		log.Info("stopping webhook dispatcher")
		dispatcher.Close()
	}()
	log.Info("webhook dispatcher started")

	// Access decision service
	accessService := access.NewService(arbiter, grantRepo, commandRepo)
	accessService.SetLogger(log)
	accessService.SetNotifier(dispatcher)
	accessService.SetAuditRepository(auditRepo)
	accessService.SetAcquireWait(cfg.GetLockAcquireWait())
	if influxClient != nil {
		accessService.SetMetrics(influxClient)
	}

	// API server
	apiServer, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Webhooks:      cfg.Webhooks,
		Logger:        log,
		Commands:      commandRepo,
		Subscriptions: subscriptionRepo,
		Deliveries:    deliveryRepo,
		Dispatcher:    dispatcher,
		Access:        accessService,
		Grants:        grantRepo,
		Locks:         arbiter,
		Audit:         auditRepo,
		ExternalHub:   hub,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, dispatcher, InfluxDB, MQTT, arbiter, database.

	log.Info("access-core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ACCESSCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ACCESSCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy. The MQTT
// and InfluxDB clients may be nil when disabled.
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
