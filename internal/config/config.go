package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultUserAgent はページ取得時に送信するデスクトップブラウザ相当のUser-Agent。
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database (serve / migrate のみ必須)
	DatabaseURL string

	// Validation
	MaxAgeHours     int
	ValidateWorkers int
	FetchTimeout    time.Duration
	FetchMaxSize    int64
	UserAgent       string

	// Discovery
	NewsSearchInterval   time.Duration
	WebSearchInterval    time.Duration

	// Selection
	PrimarySize        int
	PrimaryPool        int
	PrimarySourceCap   int
	SecondarySize      int
	SecondarySourceCap int
	SecondaryGeoCap    int

	// Social sweep
	SocialMaxAge       time.Duration
	SocialMaxPosts     int
	SocialMaxPerHandle int
	SocialMinTitle     int

	// Tables / output
	CatalogPath string
	OutputDir   string

	// Worker
	RunInterval      time.Duration
	RunRetentionDays int

	// Server
	ServerPort  string
	MetricsPort string // worker モードで /metrics を公開するポート。空の場合は公開しない

	// Logging
	LogLevel string
}

// LoadDotEnv はカレントディレクトリの .env を環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// すべての項目にデフォルト値があるため、パイプライン実行だけなら環境変数なしで動作する。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.MaxAgeHours = getEnvInt("MAX_AGE_HOURS", 48)
	cfg.ValidateWorkers = getEnvInt("VALIDATE_WORKERS", 8)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.UserAgent = getEnvString("USER_AGENT", DefaultUserAgent)

	cfg.NewsSearchInterval = getEnvDuration("NEWS_SEARCH_INTERVAL", 300*time.Millisecond)
	cfg.WebSearchInterval = getEnvDuration("WEB_SEARCH_INTERVAL", 800*time.Millisecond)

	cfg.PrimarySize = getEnvInt("PRIMARY_SIZE", 6)
	cfg.PrimaryPool = getEnvInt("PRIMARY_POOL", 12)
	cfg.PrimarySourceCap = getEnvInt("PRIMARY_SOURCE_CAP", 2)
	cfg.SecondarySize = getEnvInt("SECONDARY_SIZE", 10)
	cfg.SecondarySourceCap = getEnvInt("SECONDARY_SOURCE_CAP", 3)
	cfg.SecondaryGeoCap = getEnvInt("SECONDARY_GEO_CAP", 4)

	cfg.SocialMaxAge = getEnvDuration("SOCIAL_MAX_AGE", 72*time.Hour)
	cfg.SocialMaxPosts = getEnvInt("SOCIAL_MAX_POSTS", 4)
	cfg.SocialMaxPerHandle = getEnvInt("SOCIAL_MAX_PER_HANDLE", 2)
	cfg.SocialMinTitle = getEnvInt("SOCIAL_MIN_TITLE", 50)

	cfg.CatalogPath = getEnvString("CATALOG_PATH", "")
	cfg.OutputDir = getEnvString("OUTPUT_DIR", "output")

	cfg.RunInterval = getEnvDuration("RUN_INTERVAL", 24*time.Hour)
	cfg.RunRetentionDays = getEnvInt("RUN_RETENTION_DAYS", 30)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	var invalid []string
	if cfg.MaxAgeHours <= 0 {
		invalid = append(invalid, "MAX_AGE_HOURS")
	}
	if cfg.ValidateWorkers <= 0 {
		invalid = append(invalid, "VALIDATE_WORKERS")
	}
	if cfg.FetchTimeout <= 0 {
		invalid = append(invalid, "FETCH_TIMEOUT")
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables must be positive: %v", invalid)
	}

	return cfg, nil
}

// RequireDatabase は実行履歴の永続化に必要な設定が揃っているかを確認する。
// serve / migrate コマンドの起動時に呼び出す。
func (c *Config) RequireDatabase() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return nil
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
