// Package app assembles and runs the service: configuration, logging,
// storage selection, the background remover, owner seeding, and the HTTP
// server with graceful shutdown.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quicklnk/quicklnk/internal/accounts"
	"github.com/quicklnk/quicklnk/internal/allocator"
	"github.com/quicklnk/quicklnk/internal/apikeys"
	"github.com/quicklnk/quicklnk/internal/auth"
	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/config"
	"github.com/quicklnk/quicklnk/internal/db/jsondb"
	"github.com/quicklnk/quicklnk/internal/db/memorystorage"
	"github.com/quicklnk/quicklnk/internal/db/postgresdb"
	"github.com/quicklnk/quicklnk/internal/db/storage"
	"github.com/quicklnk/quicklnk/internal/ipchecker"
	"github.com/quicklnk/quicklnk/internal/linksremover"
	"github.com/quicklnk/quicklnk/internal/logger"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/payments"
	"github.com/quicklnk/quicklnk/internal/policy"
	"github.com/quicklnk/quicklnk/internal/resolver"
	"github.com/quicklnk/quicklnk/internal/router"
	"github.com/quicklnk/quicklnk/internal/service"
)

// App holds everything needed to serve requests and shut down cleanly.
type App struct {
	cfg              *config.Config
	db               storage.Storage
	linksRemover     *linksremover.LinksRemover
	stopLinksRemover context.CancelFunc
	httpHandler      http.Handler
}

// New wires the application from configuration to router.
func New() (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New()
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	app.db, err = getStorageByType(app.cfg)
	if err != nil {
		return nil, err
	}

	authCookieSigningSecretKey, err := base64.URLEncoding.DecodeString(app.cfg.AuthCookieSigningSecretKey)
	if err != nil {
		return nil, err
	}

	systemClock := clock.System{}

	app.linksRemover = linksremover.New(
		app.db,
		app.cfg.ChannelCapacity,
		app.cfg.DelayBetweenQueueFetches,
	)
	linksRemoverRunCtx, stopLinksRemover := context.WithCancel(context.Background())
	app.stopLinksRemover = stopLinksRemover

	app.linksRemover.Run(linksRemoverRunCtx)
	app.linksRemover.ListenErrors(func(err error) {
		logger.Log.Debugln("Error passed from the `app.linksRemover.ListenErrors()`:", zap.Error(err))
	})

	accountsSvc := accounts.New(app.db, systemClock, app.cfg.OwnerEmail)
	if app.cfg.OwnerEmail != "" && app.cfg.OwnerPassword != "" {
		err = accountsSvc.SeedOwner(context.Background(), app.cfg.OwnerName, app.cfg.OwnerPassword)
		if err != nil {
			return nil, err
		}
	}

	keysSvc := apikeys.New(app.db, systemClock)

	svc := service.New(
		app.db,
		policy.New(app.db, systemClock),
		allocator.New(app.db, systemClock),
		resolver.New(app.db, systemClock),
		app.linksRemover,
		systemClock,
	)

	paymentsSvc := payments.New(
		payments.NewGateway(
			app.cfg.PaymentGatewayURL,
			app.cfg.PaymentGatewayKeyID,
			app.cfg.PaymentGatewayKeySecret,
		),
		app.db,
		accountsSvc,
		keysSvc,
		systemClock,
	)

	ipChecker, err := ipchecker.New(app.cfg.TrustedSubnet)
	if err != nil {
		return nil, err
	}

	app.httpHandler = router.New(
		svc,
		accountsSvc,
		keysSvc,
		paymentsSvc,
		auth.New(
			app.db,
			app.cfg.AuthCookieName,
			authCookieSigningSecretKey,
		),
		ipChecker,
		systemClock,
		app.cfg.ShortURLBase,
	)

	return app, nil
}

// Run starts the HTTP server and blocks until a termination signal or a
// server failure.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Infoln("server running", "RunAddr", a.cfg.RunAddr)

	server := &http.Server{
		Addr:    a.cfg.RunAddr,
		Handler: a.httpHandler,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Saving database and exiting...")
		a.stopLinksRemover()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return a.db.Close()

	case err := <-serverErrCh:
		// The file-backed storage flushes on Close, so a failed server
		// still must not skip cleanup.
		a.stopLinksRemover()
		if closeErr := a.db.Close(); closeErr != nil {
			logger.Log.Errorln("Error while closing the database:", zap.Error(closeErr))
		}

		return fmt.Errorf("server error: %w", err)
	}
}

// Close finalizes resources such as the logger.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.DBFileName != "" {
		return models.StorageTypeFile
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage.Storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
			cfg.MigrationsDir,
		)

	case models.StorageTypeFile:
		return jsondb.New(cfg.DBFileName)
	}

	return memorystorage.New()
}
