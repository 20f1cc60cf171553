// Package server wires the SecureDocs components together and runs the HTTP
// server until the process is signalled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/logging"
	"github.com/dmitrijs2005/securedocs/internal/server/config"
	"github.com/dmitrijs2005/securedocs/internal/server/httpapi"
	"github.com/dmitrijs2005/securedocs/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/securedocs/internal/server/services"
	"github.com/dmitrijs2005/securedocs/internal/server/storage"
	"github.com/dmitrijs2005/securedocs/internal/tracing"
)

const closeTimeout = 5 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	server  *httpapi.HTTPServer
	closers []func(context.Context) error
}

func NewApp(ctx context.Context, c *config.Config) (app *App, err error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	app = &App{config: c, logger: logger}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	shutdownTracer, err := tracing.InitTracer(ctx, c.ServiceName, c.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracer init error: %w", err)
	}
	app.closers = append(app.closers, shutdownTracer)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, func(context.Context) error { return db.Close() })

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	gw, closeGateway, err := newGateway(ctx, c, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	app.closers = append(app.closers, closeGateway)

	fs, err := services.NewFileService(db, rm, gw, []byte(c.EncryptionKey), logger)
	if err != nil {
		return nil, err
	}
	us := services.NewUserService(db, rm, c, logger)

	app.server = httpapi.NewHTTPServer(httpapi.Options{
		Address:        c.ListenAddr,
		MaxUploadBytes: c.MaxUploadBytes,
		TokenValidity:  c.TokenValidityDuration,
		CookieSecure:   c.CookieSecure,
	}, logger, us, fs)

	return app, nil
}

// newGateway builds the configured backend and wraps it with retries and,
// when Redis is configured, a read-through blob cache.
func newGateway(ctx context.Context, c *config.Config, logger logging.Logger) (storage.Gateway, func(context.Context) error, error) {
	var closers []func() error
	closeAll := func(context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	var backend storage.Gateway
	switch c.StorageBackend {
	case config.StoragePinata:
		backend = storage.NewPinataGateway(&http.Client{}, storage.PinataConfig{
			JWT:       c.PinataJWT,
			UploadURL: c.PinataUploadURL,
			APIURL:    c.PinataAPIURL,
			Gateway:   c.PinataGateway,
		})
	case config.StorageS3:
		g, err := storage.NewS3Gateway(ctx, storage.S3Config{
			Region:       c.S3Region,
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
		if err != nil {
			return nil, nil, err
		}
		backend = g
	case config.StorageLocal:
		g, err := storage.OpenLocalGateway(c.LocalStorageDir)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, g.Close)
		backend = g
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	var gw storage.Gateway = storage.NewRetryingGateway(backend, storage.RetryPolicy{
		Timeout:    c.StorageTimeout,
		MaxRetries: c.StorageMaxRetries,
		Base:       c.StorageRetryBase,
	}, logger)

	if c.RedisAddr != "" {
		client, err := storage.NewRedisClient(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			_ = closeAll(ctx)
			return nil, nil, err
		}
		closers = append(closers, client.Close)
		gw = storage.NewCachedGateway(gw, storage.NewRedisBlobCache(client, c.BlobCacheTTL), logger)
	}

	logger.Info(ctx, "storage ready", "backend", c.StorageBackend, "blob_cache", c.RedisAddr != "")
	return gw, closeAll, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			app.logger.Error(ctx, "shutdown error", "error", err)
		}
	}
	app.closers = nil
}

// Run serves until ctx is cancelled or the process receives a termination
// signal, then releases every resource NewApp acquired.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)
	defer app.close()

	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server error", "error", err)
		return err
	}

	app.logger.Info(ctx, "App stopped")
	return nil
}
