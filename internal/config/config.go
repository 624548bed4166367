// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for the three databases (defaults to "./data", always absolute)
	CacheDir     string // Directory for the file-backed response cache
	LogsDir      string // Directory for JSONL error logs
	FinMindToken string // Optional FinMind API token (upgrades rate limits on the fallback source)
	LogLevel     string
	Port         int  // HTTP port for serve mode
	DevMode      bool
	Backup       *BackupConfig
}

// BackupConfig holds S3-compatible backup storage configuration.
// Works with Cloudflare R2 and plain S3; empty endpoint means AWS S3.
type BackupConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Enabled reports whether backup credentials are configured.
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Bucket != "" && b.AccessKeyID != "" && b.SecretAccessKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// 1. Check DB_PATH environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path and ensure the directory exists
	dataDir := getEnv("DB_PATH", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		CacheDir:     getEnv("CACHE_DIR", "./cache"),
		LogsDir:      getEnv("LOGS_DIR", "./logs"),
		FinMindToken: getEnv("FINMIND_TOKEN", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvAsInt("GO_PORT", 8001),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		Backup:       loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	// Note: FINMIND_TOKEN is optional; without it the fallback source runs
	// with anonymous rate limits and quota fast-stops trigger sooner.

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		Bucket:          getEnv("S3_BUCKET", ""),
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		RetentionDays:   getEnvAsInt("S3_BACKUP_RETENTION_DAYS", 30),
	}
}
