package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"go.opentelemetry.io/otel"

	userhooks "github.com/goliatone/go-userhooks"
	"github.com/goliatone/go-userhooks/adapters/gojob"
	"github.com/goliatone/go-userhooks/adapters/gologger"
	"github.com/goliatone/go-userhooks/adapters/rabbitmq"
	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/httpapi"
	"github.com/goliatone/go-userhooks/migrations"
	sqlstore "github.com/goliatone/go-userhooks/store/sql"
	"github.com/goliatone/go-userhooks/telemetry"
	"github.com/goliatone/go-userhooks/webhooks"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to an optional YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "userhooks: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := core.ResolveConfig(ctx,
		core.NewCfgxConfigProvider(core.KoanfLoader{FilePath: configPath}),
		core.GoOptionsResolver{},
		core.Config{},
	)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	base := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: gologger.ParseLevel(cfg.Log.Level)}))
	provider := gologger.NewSlogProvider(base)
	logger := provider.GetLogger("userhooks")

	client, err := openPersistence(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer client.Close()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}
	cache, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return fmt.Errorf("run cache: %w", err)
	}
	if err := factory.WithRunCache(cache); err != nil {
		return err
	}

	queue := gojob.NewMemoryQueue(0)
	defer queue.Close()

	opts := []userhooks.Option{
		userhooks.WithRunStore(factory.RunStore()),
		userhooks.WithUserRepository(factory.UserStore()),
		userhooks.WithScheduler(gojob.NewRunScheduler(queue)),
		userhooks.WithLoggerProvider(provider),
	}

	if url := strings.TrimSpace(cfg.Broker.URL); url != "" {
		publisher, err := rabbitmq.Dial(url,
			rabbitmq.WithExchange(cfg.Broker.Exchange),
			rabbitmq.WithLogger(provider.GetLogger("rabbitmq")),
		)
		if err != nil {
			return fmt.Errorf("event publisher: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, userhooks.WithEventPublisher(publisher))
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(telemetry.Options{ServiceName: cfg.AppID, Logger: logger})
		if err != nil {
			return fmt.Errorf("tracer: %w", err)
		}
		defer func() {
			flushCtx, cancelFlush := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelFlush()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
		opts = append(opts, userhooks.WithTracer(otel.Tracer(cfg.AppID)))
	}

	rt, err := userhooks.New(cfg, opts...)
	if err != nil {
		return err
	}

	worker, err := gojob.NewRunWorker(rt.Registry(),
		gojob.WithRetryPolicy(gojob.RetryPolicy{
			MaxAttempts:     cfg.Runs.MaxAttempts,
			MaxDelay:        cfg.Runs.MaxBackoff,
			RetryDelay:      cfg.Runs.InitialBackoff,
			DeadLetterOnMax: true,
		}),
		gojob.WithHooks(gojob.NewLoggingHook(provider.GetLogger("worker"))),
	)
	if err != nil {
		return err
	}
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(ctx, queue)
	}()

	server, err := httpapi.NewServer(httpapi.ConfigFrom(cfg), rt.Registry(),
		httpapi.WithLogger(provider.GetLogger("http")),
		httpapi.WithBurstController(webhooks.NewBurstController(webhooks.BurstOptions{
			Mode:   webhooks.ParseBurstMode(cfg.Webhook.BurstMode),
			Window: cfg.Webhook.BurstWindow,
		})),
	)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr, "webhook_path", cfg.HTTP.WebhookPath, "serve_path", cfg.HTTP.ServePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shutdown", "error", err)
	}
	cancel()
	if err := <-workerDone; err != nil {
		logger.Error("run worker stopped", "error", err)
	}
	return nil
}

func openPersistence(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = "sqlite3"
	}
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, dsn: cfg.DSN, debug: cfg.Debug}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	if _, err := migrations.Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.ForDriver(driver)); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}

func dialectFor(driver string) (schema.Dialect, error) {
	switch driver {
	case "sqlite3":
		return sqlitedialect.New(), nil
	case "postgres":
		return pgdialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type persistenceConfig struct {
	driver string
	dsn    string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.dsn
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-userhooks"
}
