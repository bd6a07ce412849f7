package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rosterhq/roster/internal/alert"
	"github.com/rosterhq/roster/internal/api"
	"github.com/rosterhq/roster/internal/db"
	"github.com/rosterhq/roster/internal/keycloak"
	"github.com/rosterhq/roster/internal/metrics"
	"github.com/rosterhq/roster/internal/repositories"
	"github.com/rosterhq/roster/internal/scheduler"
	"github.com/rosterhq/roster/internal/usersync"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr  string
	dbDriver  string
	dbDSN     string
	secretKey string
	logLevel  string
	opsToken  string
}

// syncConfig groups everything the user sync needs. It is read from the
// environment only — sync settings change together with the identity
// provider deployment, not per invocation.
type syncConfig struct {
	enabled     bool
	avatarHints []string
	scheduler   scheduler.Config
	alerts      alert.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "roster-server",
		Short: "Roster server — user directory with identity provider sync",
		Long: `Roster keeps a team's user directory consistent with its identity provider.
It periodically snapshots the provider's enabled users, reconciles them
against the local directory (create, link, update, suspend, reactivate),
and exposes a read-only operational API for sync history, health, and metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMigrateCmd(cfg))

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("ROSTER_HTTP_ADDR", ":8080"), "HTTP listen address for the operational API")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("ROSTER_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("ROSTER_DB_DSN", "./roster.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("ROSTER_SECRET_KEY", ""), "Master secret key for encrypting credentials at rest (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("ROSTER_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.opsToken, "ops-token", envOrDefault("ROSTER_OPS_TOKEN", ""), "Static bearer token guarding /api/v1 (open when empty)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("roster-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newMigrateCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(cfg.logLevel)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			// db.New applies pending migrations as part of opening.
			database, err := db.New(db.Config{
				Driver:   cfg.dbDriver,
				DSN:      cfg.dbDSN,
				Logger:   logger,
				LogLevel: gormLogLevel(cfg.logLevel),
			})
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			closeDatabase(database, logger)

			logger.Info("migrations applied", zap.String("driver", cfg.dbDriver))
			return nil
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or ROSTER_SECRET_KEY")
	}
	if err := db.InitEncryption([]byte(cfg.secretKey)); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	syncCfg := loadSyncConfig()

	logger.Info("starting roster server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
		zap.Bool("sync_enabled", syncCfg.enabled),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer closeDatabase(database, logger)

	store := repositories.NewDirectory(database)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	syncMetrics := metrics.NewSync(registry)

	engine := usersync.New(store, syncCfg.avatarHints, logger)

	var sched *scheduler.Scheduler
	if syncCfg.enabled {
		kc := syncCfg.scheduler.Keycloak
		if kc.BaseURL == "" || kc.Realm == "" || kc.ClientID == "" || kc.ClientSecret == "" {
			return fmt.Errorf("user sync is enabled but the provider connection is incomplete — set OIDC_SYNC_ADMIN_URL, OIDC_SYNC_REALM, OIDC_SYNC_CLIENT_ID, and OIDC_SYNC_CLIENT_SECRET")
		}

		var alerts alert.Notifier
		if webhook := alert.New(syncCfg.alerts); webhook.Enabled() {
			alerts = webhook
			logger.Info("sync alert webhook enabled")
		}

		sched, err = scheduler.New(syncCfg.scheduler, store, engine, syncMetrics, alerts, logger)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logger.Info("user sync disabled — set OIDC_SYNC_ENABLED=true to enable")
	}

	router := api.NewRouter(api.RouterConfig{
		Store:    store,
		Logger:   logger,
		Registry: registry,
		OpsToken: cfg.opsToken,
	})

	srv := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down roster server")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	if sched != nil {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler stop error", zap.Error(err))
		}
	}

	return nil
}

// loadSyncConfig reads the OIDC_SYNC_* environment. The client credentials
// fall back to the primary login client (OIDC_CLIENT_ID / OIDC_CLIENT_SECRET)
// so deployments reusing one confidential client configure nothing extra.
func loadSyncConfig() syncConfig {
	return syncConfig{
		enabled:     envBool("OIDC_SYNC_ENABLED", false),
		avatarHints: splitList(envOrDefault("OIDC_SYNC_AVATAR_HINTS", "keycloak")),
		scheduler: scheduler.Config{
			Interval:       envDuration("OIDC_SYNC_INTERVAL", time.Hour),
			Schedule:       os.Getenv("OIDC_SYNC_SCHEDULE"),
			BatchSize:      envInt("OIDC_SYNC_BATCH_SIZE", 100),
			PartitionCount: envInt("OIDC_SYNC_PARTITIONS", 1),
			PartitionIndex: envInt("OIDC_SYNC_PARTITION", 0),
			Keycloak: keycloak.Config{
				BaseURL:      os.Getenv("OIDC_SYNC_ADMIN_URL"),
				Realm:        os.Getenv("OIDC_SYNC_REALM"),
				ClientID:     envOrDefault("OIDC_SYNC_CLIENT_ID", os.Getenv("OIDC_CLIENT_ID")),
				ClientSecret: envOrDefault("OIDC_SYNC_CLIENT_SECRET", os.Getenv("OIDC_CLIENT_SECRET")),
			},
		},
		alerts: alert.Config{
			URL:    os.Getenv("OIDC_SYNC_ALERT_URL"),
			Secret: os.Getenv("OIDC_SYNC_ALERT_SECRET"),
		},
	}
}

func closeDatabase(database *gorm.DB, logger *zap.Logger) {
	sqlDB, err := database.DB()
	if err != nil {
		logger.Warn("failed to access underlying database handle", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("failed to close database", zap.Error(err))
	}
}

// gormLogLevel maps the application log level to GORM's: debug logs every
// SQL statement, everything else logs slow queries and errors only.
func gormLogLevel(level string) gormlogger.LogLevel {
	if level == "debug" {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// splitList splits a comma-separated value, trimming whitespace and dropping
// empty entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
