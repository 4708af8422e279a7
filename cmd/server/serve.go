package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aiwuxian/project-syndicate/internal/api"
	"github.com/aiwuxian/project-syndicate/internal/logging"
	"github.com/aiwuxian/project-syndicate/internal/notify"
	"github.com/aiwuxian/project-syndicate/internal/services"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd 启动 HTTP 服务与定时任务
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket notifications and schedulers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	// 加载配置
	config, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(serviceName, version, config.Log.Format)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	store, closeStore, err := openStore(ctx, config.Database, config.Game.MaxRetries)
	if err != nil {
		return err
	}
	defer closeStore()

	catalog, err := services.LoadCatalog(config.Game.CatalogPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	services.RegisterMetrics(reg)

	hubConfig := notify.DefaultConfig()
	hubConfig.AllowedOrigins = []string{config.Server.ClientURL}
	hub := notify.NewHub(hubConfig, logger)
	defer hub.Close()

	// 初始化服务
	characters := services.NewCharacterService(store, config.Game)
	crimes := services.NewCrimeService(store, catalog, services.NewRuleEngine(), hub, logger)

	scheduler := services.NewScheduler(config.Scheduler.TickTimeout, logger)
	scheduler.Add(services.NewRegenJob(store, config.Scheduler.RegenAmount), config.Scheduler.RegenInterval)
	scheduler.Add(services.NewReleaseJob(store), config.Scheduler.ReleaseInterval)
	if config.Scheduler.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()
	} else {
		logger.Warn("scheduler disabled; regeneration and release will not run in this process")
	}

	// 初始化API处理器
	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(characters, crimes, hub, store, logger)
	auth := api.NewAuthenticator(config.Auth.JWTSecret)
	router := api.NewRouter(handler, auth, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)

	addr := fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.CORS(config.Server.ClientURL)(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		logger.Info("server listening", slog.String("addr", addr), slog.Int("crimes", len(catalog.List())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		return err
	}
	return nil
}
