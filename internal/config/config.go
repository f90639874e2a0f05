// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/imagehost/service/internal/storage"
)

// Config holds all runtime configuration for the uploader and its proxy.
type Config struct {
	// Object storage (S3-compatible: Cloudflare R2 in production, MinIO locally)
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	StorageEndpoint        string
	StorageBucket          string
	StoragePublicURLBase   string // browser-accessible base URL, e.g. "https://img.example.com"

	UploadTimeout  time.Duration
	MaxUploadBytes int64

	DatabaseDriver string // "sqlite3" or "postgres"
	DatabaseURL    string
	HistoryLimit   int

	ProxyPort           int
	ProxyAllowedOrigins []string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from a .env file (if present) and environment variables.
// The returned bool reports whether a .env file was found.
func Load(envFiles ...string) (*Config, bool) {
	found := godotenv.Load(envFiles...) == nil

	return &Config{
		StorageAccessKeyID:     getEnv("STORAGE_ACCESS_KEY_ID", ""),
		StorageSecretAccessKey: getEnv("STORAGE_SECRET_ACCESS_KEY", ""),
		StorageEndpoint:        getEnv("STORAGE_ENDPOINT", ""),
		StorageBucket:          getEnv("STORAGE_BUCKET", ""),
		StoragePublicURLBase:   getEnv("STORAGE_PUBLIC_URL_BASE", ""),

		UploadTimeout:  getDuration("UPLOAD_TIMEOUT", 60*time.Second),
		MaxUploadBytes: int64(getInt("MAX_UPLOAD_BYTES", 50<<20)),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:    getEnv("DATABASE_URL", "uploads.db"),
		HistoryLimit:   getInt("HISTORY_LIMIT", 100),

		ProxyPort:           getInt("PROXY_PORT", 38123),
		ProxyAllowedOrigins: splitList(getEnv("PROXY_ALLOWED_ORIGINS", "*")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}, found
}

// Backend returns the object storage settings and whether any of them were supplied.
// An empty backend means the uploader stays unconfigured until one is provided.
func (c *Config) Backend() (storage.Config, bool) {
	b := storage.Config{
		AccessKeyID:     c.StorageAccessKeyID,
		SecretAccessKey: c.StorageSecretAccessKey,
		Endpoint:        c.StorageEndpoint,
		BucketName:      c.StorageBucket,
		PublicURLBase:   c.StoragePublicURLBase,
	}
	return b, b != storage.Config{}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
