package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/authz"
	"github.com/ametnes/nesis-sub000/internal/config"
	"github.com/ametnes/nesis-sub000/internal/connector"
	"github.com/ametnes/nesis-sub000/internal/handlers"
	"github.com/ametnes/nesis-sub000/internal/lock"
	"github.com/ametnes/nesis-sub000/internal/middleware"
	"github.com/ametnes/nesis-sub000/internal/migration"
	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/rag"
	"github.com/ametnes/nesis-sub000/internal/repository"
	"github.com/ametnes/nesis-sub000/internal/routes"
	"github.com/ametnes/nesis-sub000/internal/scheduler"
	"github.com/ametnes/nesis-sub000/internal/service"
	syncengine "github.com/ametnes/nesis-sub000/internal/sync"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	cache  *redis.Client
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Initialize the cache connection backing distributed locks.
	cache := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	defer cache.Close()
	if err := cache.Ping(context.Background()).Err(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping cache")
	}

	app := &application{
		config: cfg,
		db:     db,
		cache:  cache,
		logger: logger,
	}

	// Repositories
	datasourceRepo := repository.NewDatasourceRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	jobRepo := repository.NewJobRepository(db)
	grantRepo := repository.NewGrantRepository(db)

	// Shared infrastructure
	locker := lock.NewRedisLocker(cache, cfg.Cache.LockTTL, logger)
	ragClient := rag.NewClient(cfg.Rag.Endpoint, cfg.Rag.Timeout, logger)
	factory := func(ds models.Datasource) (connector.Connector, error) {
		return connector.New(ds, logger)
	}
	engine := syncengine.NewEngine(documentRepo, ragClient, locker, factory, syncengine.Config{
		Workers:   cfg.Sync.Workers,
		BatchSize: cfg.Sync.BatchSize,
		TempDir:   cfg.Sync.TempDir,
	}, logger)

	// Authorization gate
	lister := service.NewRepositoryLister(datasourceRepo, taskRepo)
	gate := authz.NewGate(grantRepo, lister, []byte(cfg.JWTSecret), logger)

	// Scheduler with status listener and ingest runner
	listener := service.NewStatusListener(taskRepo, datasourceRepo, logger)
	sched := scheduler.New(jobRepo, taskRepo, locker, listener, cfg.Scheduler, logger)
	runner := service.NewIngestRunner(datasourceRepo, engine, logger)
	sched.SetRunner(runner.Run)

	// Services and handlers
	taskService := service.NewTaskService(taskRepo, sched, gate, logger)
	datasourceService := service.NewDatasourceService(datasourceRepo, taskService, gate, logger)

	datasourceHandler := handlers.NewDatasourceHandler(datasourceService, logger)
	taskHandler := handlers.NewTaskHandler(taskService, logger)
	grantHandler := handlers.NewGrantHandler(grantRepo, gate, logger)

	router := routes.NewRouter(handlers.NewHealthCheck(db), datasourceHandler, taskHandler, grantHandler)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"*"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(loggedRouter)

	// Start the scheduler loop; cancelling the context drains in-flight runs.
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Start(schedCtx)
	}()

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	stopScheduler()
	select {
	case <-schedDone:
		logger.Info().Msg("Scheduler stopped.")
	case <-time.After(cfg.Scheduler.ShutdownGrace):
		logger.Warn().Msg("Scheduler did not stop within the shutdown grace period.")
	}

	logger.Info().Msg("Application terminated.")
}

// startServer launches the HTTP server and blocks until shutdown completes.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
