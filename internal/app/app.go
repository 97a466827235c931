// Package app はアプリケーションの初期化と起動モードの振り分けを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/taskpad/internal/config"
	"github.com/hitoshi/taskpad/internal/database"
	"github.com/hitoshi/taskpad/internal/docstore"
	"github.com/hitoshi/taskpad/internal/emulator"
	"github.com/hitoshi/taskpad/internal/logger"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("EMULATOR_PORT")
		if port == "" {
			port = "9099"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("backend", cfg.BackendKind),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runEmulator(cfg)
	}
}

// runEmulator はエミュレーターモードで起動する。
// IdPとドキュメントストアのローカル実装をHTTPで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runEmulator(cfg *config.Config) error {
	store, closeStore, err := openBackendStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	emu, err := emulator.New(store, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to create emulator: %w", err)
	}

	rl := emulator.NewRateLimiter(emulator.RateLimiterConfig{
		AuthRate:        rate.Limit(float64(cfg.AuthRatePerMin) / 60.0),
		AuthBurst:       cfg.AuthRateBurst,
		CleanupInterval: 5 * time.Minute,
	})
	defer rl.Stop()

	registry := prometheus.NewRegistry()
	router := emulator.NewRouter(emu, rl, registry)

	server := &http.Server{
		Addr:         ":" + cfg.EmulatorPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("emulator starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down emulator...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("emulator stopped gracefully")
	return nil
}

// runMigrate はPostgreSQLバックエンドのマイグレーションを実行する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running migrations")

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("migrations applied")
	return nil
}

// runHealthcheck はエミュレーターの/healthzを叩いて結果を終了コードで返す。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get("http://localhost:" + port + "/healthz")
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// openBackendStore は設定に従ってドキュメントストアのバックエンドを開く。
func openBackendStore(cfg *config.Config) (docstore.Store, func(), error) {
	switch cfg.BackendKind {
	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return docstore.NewPostgresStore(db), func() { _ = db.Close() }, nil

	case config.BackendSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("sqlite database opened", slog.String("path", cfg.SQLitePath))
		return docstore.NewSQLiteStore(db), func() { _ = db.Close() }, nil

	default:
		return docstore.NewMemoryStore(), func() {}, nil
	}
}
