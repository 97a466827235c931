package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

// TestSetup_JSONOutput はJSON構造化ログが出力されることを検証する。
func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(&buf)

	logger.Info("test message", slog.String("key", "value"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "test message" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("attribute not recorded: %v", entry)
	}
	if entry["level"] != "INFO" {
		t.Errorf("unexpected level: %v", entry["level"])
	}
}

// TestSetup_LevelFromEnv はLOG_LEVELによるレベル切り替えを検証する。
func TestSetup_LevelFromEnv(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"", false, true},        // 既定はinfo
		{"unknown", false, true}, // 不明な値も既定へ
	}

	for _, tt := range tests {
		t.Run("LOG_LEVEL="+tt.level, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.level)

			var buf bytes.Buffer
			logger := Setup(&buf)

			logger.Debug("debug message")
			gotDebug := buf.Len() > 0
			if gotDebug != tt.wantDebug {
				t.Errorf("debug emitted = %v, want %v", gotDebug, tt.wantDebug)
			}

			buf.Reset()
			logger.Info("info message")
			gotInfo := buf.Len() > 0
			if gotInfo != tt.wantInfo {
				t.Errorf("info emitted = %v, want %v", gotInfo, tt.wantInfo)
			}
		})
	}
}

// TestSetupDefault はグローバルロガーが差し替わることを検証する。
func TestSetupDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	var buf bytes.Buffer
	SetupDefault(&buf)

	slog.Info("via default logger")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "via default logger" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
}
