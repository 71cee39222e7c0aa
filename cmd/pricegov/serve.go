package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	cronrunner "pricegov/internal/cron"
	"pricegov/internal/handler"

	_ "pricegov/docs"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline, the scheduler and the ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := a.logger

	var cronRunner *cronrunner.Runner
	if cfg.Cron.Enabled {
		cronRunner = cronrunner.New(log.Named("cron"), ctx)
		if _, err := cronRunner.Add("fetch", cfg.Cron.Fetch, cronrunner.FetchJob(a.bus, cfg.MarketData, log)); err != nil {
			return err
		}
		skus := cfg.Optimizer.SKUs
		if len(skus) == 0 {
			skus = cfg.MarketData.SKUs
		}
		if _, err := cronRunner.Add("optimize", cfg.Cron.Optimize, cronrunner.OptimizeJob(a.optimizer, skus, log)); err != nil {
			return err
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	if !cfg.Server.Enabled {
		log.Info("http server disabled; running pipeline only")
		<-ctx.Done()
		return nil
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := newEngine(a)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case serveErr = <-errCh:
		log.Error("server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return serveErr
}

func newEngine(a *app) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(handler.WriteAudit(a.logger.Named("api")))
	engine.Use(handler.RequireToken(a.cfg.Server.APIToken))

	(&handler.HealthHandler{DB: a.db.Gorm, Repo: a.store, Bus: a.bus, Sources: a.sources, Pool: a.pool}).Register(engine)
	(&handler.DecisionsHandler{Repo: a.store}).Register(engine)
	(&handler.JobsHandler{Repo: a.store}).Register(engine)
	(&handler.SettingsHandler{Repo: a.store, Settings: a.settings}).Register(engine)
	(&handler.TriggersHandler{Bus: a.bus, Optimizer: a.optimizer, Defaults: a.cfg.MarketData}).Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
