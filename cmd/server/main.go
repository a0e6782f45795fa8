package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/system-design/14-view-counter/internal"
	"github.com/koopa0/system-design/14-view-counter/internal/migrations"
	"github.com/koopa0/system-design/14-view-counter/internal/sqlc"
	"github.com/koopa0/system-design/14-view-counter/pkg/logger"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

func main() {
	defaultPath := "config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		defaultPath = p
	}
	configPath := flag.String("config", defaultPath, "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 載入配置
	config, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 設定日誌
	log, logCloser, err := logger.New(logger.Options{
		Level:    config.Log.Level,
		Format:   config.Log.Format,
		Output:   config.Log.Output,
		TimeZone: config.Log.TimeZone,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	ctx := context.Background()

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		PoolSize:     config.Redis.PoolSize,
		MinIdleConns: config.Redis.MinIdleConns,
		MaxRetries:   config.Redis.MaxRetries,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		// 快速儲存不可用時仍啟動：讀取路徑會降級為持久化計數
		log.Warn("redis unavailable at startup", "addr", config.Redis.Addr, "error", err)
	}

	// 執行資料庫遷移
	if err := runMigrations(config.PostgresURL(), log); err != nil {
		return err
	}

	// 連接 PostgreSQL
	pgConfig, err := pgxpool.ParseConfig(config.PostgresDSN())
	if err != nil {
		return fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = config.Postgres.MaxConns
	pgConfig.MinConns = config.Postgres.MinConns

	pgPool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	// 通知事件（未設定 NATS 時不發送）
	var publisher internal.Publisher = internal.NopPublisher{}
	if config.NATS.URL != "" {
		nc, err := nats.Connect(config.NATS.URL,
			nats.Name("view-counter"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()

		natsPublisher, err := internal.NewNATSPublisher(nc, config.NATS.Stream, config.NATS.Subject)
		if err != nil {
			return err
		}
		publisher = natsPublisher
		log.Info("notification events enabled", "stream", config.NATS.Stream)
	}

	// 組裝服務
	store := internal.NewRedisStore(redisClient)
	posts := internal.NewPostStore(sqlc.New(pgPool), log)
	ledger := internal.NewLedger(store, config.Views.MarkerTTL)
	ranking := internal.NewRanking(store, config.Views.CounterTTL)
	merger := internal.NewMerger(ranking, log)
	notifier := internal.NewNotifier(posts, publisher, log)

	views := internal.NewViewService(posts, ledger, ranking, log)
	postService := internal.NewPostService(posts, ranking, merger, notifier, config.Auth.Subscribers, log)
	reconciler := internal.NewReconciler(ranking, store, posts, internal.SyncOptions{
		TopK:           config.Sync.TopK,
		Concurrency:    config.Sync.Concurrency,
		LockTTL:        config.Sync.LockTTL,
		PerPostTimeout: config.Sync.PerPostTimeout,
	}, log)

	handler := internal.NewHandler(views, postService, reconciler, internal.HandlerOptions{
		SyncSecret: config.Sync.Secret,
		UserHeader: config.Auth.UserHeader,
		Checks: map[string]internal.Pinger{
			"redis":    store,
			"postgres": pgPool,
		},
	}, log)

	var scheduler *internal.SyncScheduler
	if config.Sync.EnableInProcess {
		scheduler = internal.NewSyncScheduler(reconciler, config.Sync.Interval, config.Sync.LockTTL, log)
		scheduler.Start()
	}

	// 設定 HTTP 伺服器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// 啟動伺服器
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", config.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
		defer cancel()

		if scheduler != nil {
			scheduler.Stop()
		}

		// 關閉 HTTP 伺服器
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			// 強制關閉伺服器
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}

		// 等待背景通知送出
		notifier.Wait()
	}

	log.Info("server stopped")
	return nil
}

// runMigrations 執行資料庫遷移
func runMigrations(databaseURL string, log *slog.Logger) error {
	m, err := migrations.New(databaseURL, log)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
