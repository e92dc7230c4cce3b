package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInit_WithDefaults_Succeeds(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("MAX_AGE_HOURS", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.MaxAgeHours != 48 {
		t.Errorf("MaxAgeHours = %d, want 48", cfg.MaxAgeHours)
	}

	// slogのグローバルロガーがJSON出力に設定されていること
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Default().Info("should be dropped")
	slog.Default().Warn("should be kept")

	if strings.Contains(buf.String(), "should be dropped") {
		t.Error("info log should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "should be kept") {
		t.Error("warn log should be written")
	}
}

func TestInit_WithInvalidConfig_ReturnsError(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MAX_AGE_HOURS", "0")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for non-positive MAX_AGE_HOURS, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://newsbrief:secret@db:5432/newsbrief?sslmode=disable", "postgres://newsbrief:xxxxx@db:5432/newsbrief?sslmode=disable"},
		{"postgres://db:5432/newsbrief", "postgres://db:5432/newsbrief"},
		{"not a url", "***"},
	}
	for _, tt := range tests {
		got := maskDatabaseURL(tt.in)
		if got != tt.want {
			t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if strings.Contains(got, "secret") {
			t.Errorf("masked URL leaks the password: %q", got)
		}
	}
}
