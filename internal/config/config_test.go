package config

import (
	"testing"
	"time"
)

// TestLoad_Defaults は環境変数未設定時の既定値を検証する。
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BackendKind != BackendREST {
		t.Errorf("expected default backend %q, got %q", BackendREST, cfg.BackendKind)
	}
	if cfg.BaseURL != "http://localhost:9099" {
		t.Errorf("unexpected default BaseURL: %q", cfg.BaseURL)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("unexpected default HTTPTimeout: %v", cfg.HTTPTimeout)
	}
	if cfg.EmulatorPort != "9099" {
		t.Errorf("unexpected default EmulatorPort: %q", cfg.EmulatorPort)
	}
	if cfg.TokenTTL != time.Hour {
		t.Errorf("unexpected default TokenTTL: %v", cfg.TokenTTL)
	}
	if cfg.AuthRatePerMin != 30 || cfg.AuthRateBurst != 10 {
		t.Errorf("unexpected default rate limit: %d/%d", cfg.AuthRatePerMin, cfg.AuthRateBurst)
	}
	if cfg.NotifyBuffer != 16 {
		t.Errorf("unexpected default NotifyBuffer: %d", cfg.NotifyBuffer)
	}
}

// TestLoad_Overrides は環境変数による上書きを検証する。
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BACKEND_KIND", BackendSQLite)
	t.Setenv("SQLITE_PATH", "/tmp/test.db")
	t.Setenv("HTTP_TIMEOUT", "3s")
	t.Setenv("NOTIFY_BUFFER", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BackendKind != BackendSQLite {
		t.Errorf("expected sqlite backend, got %q", cfg.BackendKind)
	}
	if cfg.SQLitePath != "/tmp/test.db" {
		t.Errorf("unexpected SQLitePath: %q", cfg.SQLitePath)
	}
	if cfg.HTTPTimeout != 3*time.Second {
		t.Errorf("unexpected HTTPTimeout: %v", cfg.HTTPTimeout)
	}
	if cfg.NotifyBuffer != 64 {
		t.Errorf("unexpected NotifyBuffer: %d", cfg.NotifyBuffer)
	}
}

// TestLoad_PostgresRequiresDatabaseURL はpostgresバックエンド選択時の
// 必須環境変数を検証する。
func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("BACKEND_KIND", BackendPostgres)

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is not set")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/taskpad?sslmode=disable")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabaseURL == "" {
		t.Error("DatabaseURL not loaded")
	}
}

// TestLoad_UnknownBackendKind は不明なバックエンド種別を弾くことを検証する。
func TestLoad_UnknownBackendKind(t *testing.T) {
	t.Setenv("BACKEND_KIND", "dynamo")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend kind")
	}
}

// TestLoad_InvalidValuesFallBack は解釈できない値が既定値になることを検証する。
func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "not-a-duration")
	t.Setenv("NOTIFY_BUFFER", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("invalid duration must fall back to default, got %v", cfg.HTTPTimeout)
	}
	if cfg.NotifyBuffer != 16 {
		t.Errorf("invalid int must fall back to default, got %d", cfg.NotifyBuffer)
	}
}
