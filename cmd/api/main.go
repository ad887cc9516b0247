package main

import (
	"TelegramMini/internal/api/config"
	"TelegramMini/internal/pkg/consts"
	"TelegramMini/internal/pkg/cron"
	"TelegramMini/internal/pkg/database"
	"TelegramMini/internal/pkg/logger"
	"TelegramMini/internal/pkg/mongo"
	"TelegramMini/internal/pkg/redis"
	"TelegramMini/internal/wire"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("Fatal error: failed to load configuration", "err", err)
		panic(err)
	}

	// 初始化日志
	logger.InitLogger(cfg.Logstash)
	if cfg.Server.InstanceID != "" {
		log.SetDefault(log.Default().With("instance_id", cfg.Server.InstanceID))
	}

	// 数据库连接
	dbCfg := cfg.DB
	db, err := database.NewGormDB(&dbCfg)
	if err != nil {
		log.Error("Fatal error: failed to create database connection", "err", err)
		panic(err)
	}

	// Mongo 连接
	mongoDB, err := mongo.InitMongo(cfg.Mongo)
	if err != nil {
		log.Error("Fatal error: failed to create mongo connection", "err", err)
		panic(err)
	}
	indexCtx, indexCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = mongo.EnsureIndexes(indexCtx, mongoDB)
	indexCancel()
	if err != nil {
		log.Error("Fatal error: failed to create mongo indexes", "err", err)
		panic(err)
	}

	// Redis 连接
	rdb, err := redis.InitRedis(cfg.Redis)
	if err != nil {
		log.Error("Fatal error: failed to create redis connection", "err", err)
		panic(err)
	}

	// 依赖注入
	app, err := wire.BuildApplication(db, mongoDB, rdb, cfg)
	if err != nil {
		log.Error("Fatal error: failed to create application", "err", err)
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// 定时任务
	err = cron.InitCron(app.CronMgr)
	if err != nil {
		log.Error("Fatal error: failed to start cron jobs", "err", err)
		panic(err)
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Cron Jobs stopping...")
		app.CronMgr.Stop()
		return nil
	})

	// 其他客户端经 broker 上报的心跳
	g.Go(func() error {
		return app.Broker.Subscribe(ctx, consts.HeartbeatTopicPattern, func(ctx context.Context, topic string, _ []byte) {
			parsed, ok := consts.ParseTopic(topic)
			if !ok || parsed.Kind != consts.TopicKindHeartbeat {
				log.WarnContext(ctx, "ignore unknown broker topic", "topic", topic)
				return
			}
			app.Tracker.Heartbeat(ctx, parsed.ID)
		})
	})

	// HTTP 服务器
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: app.Router,
	}
	g.Go(func() error {
		log.Info("HTTP Server starting...", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 优雅退出
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-ctx.Done():
		case sig := <-quit:
			log.Info("Received signal, shutting down...", "signal", sig)
			cancel()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP Server shutdown failed", "err", err)
		}
		// 已升级的 WS 连接不受 Shutdown 管理
		log.Info("WS sessions closed", "count", app.Hub.Shutdown())
		return nil
	})

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("App exited with error", "err", err)
	}

	// 关闭外部连接
	if app.KafkaProducer != nil {
		if err := app.KafkaProducer.Close(); err != nil {
			log.Error("Kafka producer close failed", "err", err)
		}
	}
	if err := app.Broker.Close(); err != nil {
		log.Error("Redis close failed", "err", err)
	}
	if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
		log.Error("Mongo disconnect failed", "err", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("App exited successfully.")
}
