package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jengzang/scootermap-go/internal/api"
	"github.com/jengzang/scootermap-go/internal/config"
	"github.com/jengzang/scootermap-go/internal/handler"
	"github.com/jengzang/scootermap-go/internal/logging"
	"github.com/jengzang/scootermap-go/internal/middleware"
	"github.com/jengzang/scootermap-go/internal/repository"
	"github.com/jengzang/scootermap-go/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load(config.Path())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	store, err := repository.Open(ctx, cfg.Database.Path, repository.Options{
		Resolutions: cfg.H3.Resolutions,
		Retry:       repository.RetryPolicy{MaxAttempts: cfg.Storage.RetryAttempts, Delay: cfg.Storage.RetryDelay},
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize snapshot store")
	}
	defer store.Close()

	heatmap := service.NewHeatmapService(store, service.HeatmapSettings{
		Resolutions:       cfg.H3.Resolutions,
		DefaultResolution: cfg.H3.DefaultResolution,
		WindowSizeMinutes: cfg.Window.SizeMinutes,
		RetentionMinutes:  cfg.Window.RetentionMinutes,
	})
	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// 初始化路由
	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRouter(cfg, logger, api.Handlers{
		Heatmap: handler.NewHeatmapHandler(heatmap),
		Health:  handler.NewHealthHandler(heatmap, cfg.App.Name),
		Admin:   handler.NewAdminHandler(store, cfg.Window.Retention(), logger),
	}, limiter)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		// 启动服务器
		logger.WithField("addr", srv.Addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return
	}
	logger.Info("Server stopped")
}
