package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wikibook/internal/access"
	"wikibook/internal/api"
	"wikibook/internal/auth"
	"wikibook/internal/config"
	fileutil "wikibook/internal/file"
	"wikibook/internal/pdf"
	"wikibook/internal/store"
	"wikibook/internal/task"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := fileutil.EnsureDir(cfg.OutputDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.OutputDir).Msg("ensure output dir")
	}

	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	taskStore := store.NewTaskStore(db)

	if n, err := taskStore.FailInterrupted(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to recover interrupted tasks")
	} else if n > 0 {
		log.Warn().Int64("count", n).Msg("marked interrupted tasks as failed")
	}

	manager := task.NewManager(taskStore, pdf.NewEngine(), task.Options{
		OutputDir:          cfg.OutputDir,
		DefaultSourceBase:  cfg.DefaultSourceBase,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		MaxPagesPerBook:    cfg.MaxPagesPerBook,
		FetchTimeout:       time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
	})

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)

	router := setupRouter()
	verifier := auth.NewJWTManager(cfg.JWTSecret, time.Duration(cfg.TokenTTLMinutes)*time.Minute)
	apiHandler := api.NewAPI(manager, taskStore, access.NewGuard(taskStore), verifier)
	apiHandler.RegisterRoutes(router)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 30 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Str("output_dir", cfg.OutputDir).Msg("server started")

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, manager *task.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !manager.WaitAll(ctx) {
		log.Warn().Msg("background runs did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
