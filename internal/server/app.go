// Package server wires the bizdesk server process: configuration, logging,
// the database, session stores and services, and runs the HTTP API and the
// gRPC health endpoint until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/config"
	"github.com/jambasimaging/bizdesk/internal/server/http/handler"
	"github.com/jambasimaging/bizdesk/internal/server/http/middleware"
	"github.com/jambasimaging/bizdesk/internal/server/http/router"
	"github.com/jambasimaging/bizdesk/internal/server/metrics"
	"github.com/jambasimaging/bizdesk/internal/server/notify"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/repomanager"
	"github.com/jambasimaging/bizdesk/internal/server/services"
	"github.com/jambasimaging/bizdesk/internal/server/sessions"
	"github.com/jambasimaging/bizdesk/internal/timex"
	"github.com/redis/go-redis/v9"

	gs "github.com/jambasimaging/bizdesk/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	metrics *metrics.Metrics
	handler http.Handler
}

func NewApp(c *config.Config) (*App, error) {

	logger, err := logging.New(logging.Format(c.LogFormat), c.Debug)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	store, lockouts, err := app.sessionStores()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rm := repomanager.NewPostgresRepositoryManager()
	mx := metrics.New()
	app.metrics = mx

	authSvc := services.NewAuthService(db, rm, store, lockouts, app.notifier(), services.AuthSettingsFromConfig(c), logger, mx)
	ledgerSvc := services.NewLedgerService(db, dbx.NewSQLTransactor(db), rm, services.LedgerSettings{
		DefaultVATRate:  c.DefaultVATRate,
		DefaultCurrency: c.DefaultCurrency,
	}, logger, mx)
	reportSvc := services.NewReportService(db, rm, services.StorageSettings{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		URLTTL:       c.ExportURLTTL,
	}, &http.Client{Timeout: 30 * time.Second}, logger)

	h := handler.New(authSvc, ledgerSvc, reportSvc, handler.CookieSettings{
		Secret: []byte(c.SecretKey),
		Secure: c.SecureCookies,
		TTL:    c.SessionTTL,
	}, logger)

	var backOffice gin.Accounts
	if c.AdminUser != "" && c.AdminPassword != "" {
		backOffice = gin.Accounts{c.AdminUser: c.AdminPassword}
	}
	app.handler = router.New(h, authSvc, router.Options{
		Secret:     []byte(c.SecretKey),
		Policy:     middleware.DefaultGatePolicy(c.AdminBackofficeExempt),
		BackOffice: backOffice,
		Debug:      c.Debug,
	}, logger, mx)

	return app, nil
}

func (app *App) sessionStores() (sessions.Store, sessions.LockoutStore, error) {
	switch app.config.SessionBackend {
	case config.SessionBackendRedis:
		client, err := sessions.NewRedisClient(app.config.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		app.redis = client
		return sessions.NewRedisStore(client, timex.SystemClock), sessions.NewRedisLockoutStore(client, timex.SystemClock), nil
	default:
		app.logger.Warn(context.Background(), "using in-memory session store; sessions and lockouts are lost on restart and not shared between instances")
		return sessions.NewMemoryStore(timex.SystemClock), sessions.NewMemoryLockoutStore(timex.SystemClock), nil
	}
}

func (app *App) notifier() notify.Notifier {
	if app.config.SMTPHost == "" {
		app.logger.Warn(context.Background(), "no smtp host configured; one-time codes are written to the log")
		return notify.NewLogNotifier(app.logger)
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:       app.config.SMTPHost,
		Port:       app.config.SMTPPort,
		Username:   app.config.SMTPUser,
		Password:   app.config.SMTPPassword,
		From:       app.config.SMTPFrom,
		Encryption: notify.ParseEncryption(app.config.SMTPEncryption),
	})
}

// ready is the readiness probe of the health endpoint.
func (app *App) ready(ctx context.Context) error {
	if err := app.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if app.redis != nil {
		if err := app.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s, err := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.ready, 10*time.Second)

	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	} else {

		if err := s.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	app.serveHTTP(ctx, cancelFunc, "HTTP", app.config.HTTPAddr, app.handler)
}

// startMetricsServer serves Prometheus on its own listener so the counters
// stay off the public port.
func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if app.config.MetricsAddr == "" {
		app.logger.Info(ctx, "Metrics listener disabled")
		return
	}
	app.serveHTTP(ctx, cancelFunc, "metrics", app.config.MetricsAddr, app.metrics.Mux())
}

func (app *App) serveHTTP(ctx context.Context, cancelFunc context.CancelFunc, name, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping "+name+" server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			app.logger.Error(ctx, name+" shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting "+name+" server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	_ = app.db.Close()
}

// Run migrates the schema and serves until ctx is cancelled or a shutdown
// signal arrives.
func (app *App) Run(ctx context.Context) error {
	defer app.close()

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	if err := repomanager.NewPostgresRepositoryManager().RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return nil
}
