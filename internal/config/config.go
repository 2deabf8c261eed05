package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// 應用程式設定
	AppEnv  string
	AppName string

	// 後端 API 設定
	APIBaseURL string
	APIToken   string

	// HTTP 客戶端設定
	HTTPTimeout time.Duration

	// 拍賣時間設定
	OvertimeSeconds int
	RefreshInterval time.Duration

	// 推播串流設定
	StreamReconnect   bool
	StreamMaxInterval time.Duration
}

func Load() (*Config, error) {
	// 嘗試載入 .env 檔案（開發環境）
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		AppName: getEnv("APP_NAME", "wellness_auction"),

		APIBaseURL: getEnv("API_BASE_URL", "http://127.0.0.1:8080"),
		APIToken:   getEnv("API_TOKEN", ""),

		HTTPTimeout: time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second,

		OvertimeSeconds: getEnvAsInt("OVERTIME_SECONDS", 30),
		RefreshInterval: time.Duration(getEnvAsInt("REFRESH_INTERVAL_SECONDS", 15)) * time.Second,

		StreamReconnect:   getEnvAsBool("STREAM_RECONNECT", false),
		StreamMaxInterval: time.Duration(getEnvAsInt("STREAM_MAX_INTERVAL_SECONDS", 30)) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}

	if c.APIToken == "" && c.AppEnv == "production" {
		return fmt.Errorf("API_TOKEN must be set in production")
	}

	if c.OvertimeSeconds <= 0 {
		return fmt.Errorf("OVERTIME_SECONDS must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
