package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/park285/bards-gambit/internal/builder"
	appcfg "github.com/park285/bards-gambit/internal/config"
	"github.com/park285/bards-gambit/internal/obslog"
	"github.com/park285/bards-gambit/internal/server"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}
	gin.SetMode(cfg.GinMode)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := builder.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("init error", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("close deps", zap.Error(err))
		}
	}()

	srv, err := server.New(server.Config{
		Assembler:      deps.Assembler,
		Themes:         deps.Themes,
		Games:          deps.Games,
		DefaultTheme:   deps.DefaultTheme,
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger.Named("http"),
	})
	if err != nil {
		logger.Fatal("server init error", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// narrative requests wait on the engine and the model
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("eval_backend", cfg.EvalBackend),
			zap.String("ai_provider", cfg.AIProvider),
			zap.String("mode", cfg.NarrativeMode),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
