// Package server initializes and runs the clinicvault server: it opens the
// database, runs migrations, selects the object store, wires the services,
// and runs the REST API, the gRPC health endpoint and the lifecycle sweeper
// until its context is cancelled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/clock"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/server/api"
	"github.com/dmitrijs2005/clinicvault/internal/server/audit"
	"github.com/dmitrijs2005/clinicvault/internal/server/config"
	"github.com/dmitrijs2005/clinicvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/clinicvault/internal/server/services"
	"github.com/dmitrijs2005/clinicvault/internal/server/storage"

	gs "github.com/dmitrijs2005/clinicvault/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	audit       *audit.Writer
	keyService  *services.KeyService
	fileService *services.FileService
	sweeper     *services.Sweeper
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.NewJSONLogger(os.Stdout, level)

	rm := repomanager.NewPostgresRepositoryManager()
	db, err := rm.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, c)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	if ms, ok := store.(*storage.MinioStore); ok {
		if err := ms.EnsureBucket(ctx); err != nil {
			logger.Warn(ctx, "bucket check failed", "bucket", c.S3Bucket, "error", err)
		}
	}

	clk := clock.Real()
	aw := audit.NewWriter(rm.Audit(db), logger, clk, 0)

	ks := services.NewKeyService(db, rm, cryptox.NewKeyWrapper(c.KeyEncryptionSecret), aw, clk, logger, services.KeyPolicy{
		KeyValidity:    c.KeyValidity,
		RotationGrace:  c.RotationGrace,
		MaxPinAttempts: c.MaxPinAttempts,
	})
	fs := services.NewFileService(db, rm, store, aw, clk, logger, c.PendingFileTTL)

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		audit:       aw,
		keyService:  ks,
		fileService: fs,
		sweeper:     services.NewSweeper(ks, fs, c.SweepInterval, logger),
	}, nil
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	h := api.NewHandler(app.keyService, app.fileService, app.config.SecretKey, app.config.MaxUploadBytes, app.logger)

	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn(shutdownCtx, "HTTP shutdown incomplete", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
	// in-flight handlers still record audit events until Shutdown returns
	<-stopped
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.audit.Start()

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.sweeper.Run(ctx)
	}()

	wg.Wait()

	app.audit.Close()
	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close failed", "error", err)
	}
	app.logger.Info(context.Background(), "Stopped")
}
