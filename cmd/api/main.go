package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohammadpnp/roster-import/internal/bootstrap"
	"github.com/mohammadpnp/roster-import/internal/config"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/db/migrations"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load(".env", ".env.local")
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	logger := cfg.Logger()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.WithError(err).Fatal("failed to get database handle")
	}
	defer sqlDB.Close()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := migrations.Up(startCtx, sqlDB); err != nil {
		logger.WithError(err).Fatal("failed to migrate database")
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to create pgx pool")
	}
	defer pool.Close()

	infra := bootstrap.Infrastructure{DB: db, Pool: pool}
	if cfg.Index.Backend == "redis" {
		opts, err := redis.ParseURL(cfg.Index.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(startCtx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, existence checks will fail until it recovers")
		}
		infra.Redis = rdb
	}

	roles, err := bootstrap.NewRoleDefaults(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to load authz policy")
	}
	server := bootstrap.NewHTTPServer(cfg, infra, roles, logger)

	go func() {
		logger.WithField("addr", cfg.Address()).Info("http server listening")
		if err := server.Start(cfg.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if err := roles.ReloadPolicy(context.Background()); err != nil {
				logger.WithError(err).Error("failed to reload authz policy")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(reload)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("graceful shutdown failed")
	}
}
