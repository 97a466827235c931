// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// バックエンド種別
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendKind string // ドキュメントストアの実装: rest, postgres, sqlite, memory
	BaseURL     string // restバックエンドおよびIdPのベースURL
	DatabaseURL string // postgresバックエンドの接続URL
	SQLitePath  string // sqliteバックエンドのファイルパス

	// HTTP
	HTTPTimeout time.Duration

	// Emulator
	EmulatorPort   string
	TokenTTL       time.Duration
	AuthRatePerMin int
	AuthRateBurst  int

	// Notification
	NotifyBuffer int
}

// Load は環境変数からConfigを読み込む。
// 選択したバックエンドに必要な環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{
		BackendKind:    getEnvString("BACKEND_KIND", BackendREST),
		BaseURL:        getEnvString("BASE_URL", "http://localhost:9099"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     getEnvString("SQLITE_PATH", "taskpad.db"),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		EmulatorPort:   getEnvString("EMULATOR_PORT", "9099"),
		TokenTTL:       getEnvDuration("TOKEN_TTL", time.Hour),
		AuthRatePerMin: getEnvInt("AUTH_RATE_PER_MIN", 30),
		AuthRateBurst:  getEnvInt("AUTH_RATE_BURST", 10),
		NotifyBuffer:   getEnvInt("NOTIFY_BUFFER", 16),
	}

	switch cfg.BackendKind {
	case BackendREST, BackendSQLite, BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
		}
	default:
		return nil, fmt.Errorf("unknown backend kind: %q", cfg.BackendKind)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
