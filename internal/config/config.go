package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	TokenSecret string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	ReposDir    string
	// MigrationsDir is only consulted when DatabaseURL is set.
	MigrationsDir string
	CORSOrigin    string
	// SaveQuietWindow is how long a document must stay idle before
	// buffered realtime edits are persisted.
	SaveQuietWindow time.Duration
	MeiliURL        string
	MeiliMasterKey  string
	RedisURL        string
	// MinIO export archive - disabled when endpoint is empty
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// SMTP - empty by default, share notifications disabled if not configured
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
}

func Load() Config {
	return Config{
		Addr:            getenv("API_ADDR", ":8080"),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		TokenSecret:     getenv("FLOWDESK_TOKEN_SECRET", "flowdesk-dev-secret"),
		AccessTTL:       time.Duration(getenvInt("FLOWDESK_ACCESS_TTL_SECONDS", 86400)) * time.Second,
		RefreshTTL:      time.Duration(getenvInt("FLOWDESK_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		ReposDir:        getenv("FLOWDESK_REPOS_DIR", "./data/repos"),
		MigrationsDir:   getenv("FLOWDESK_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:      getenv("FLOWDESK_CORS_ORIGIN", "*"),
		SaveQuietWindow: time.Duration(getenvInt("FLOWDESK_SAVE_QUIET_MS", 1000)) * time.Millisecond,
		MeiliURL:        getenv("MEILI_URL", ""),
		MeiliMasterKey:  getenv("MEILI_MASTER_KEY", ""),
		RedisURL:        getenv("REDIS_URL", ""),
		MinioEndpoint:   getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:  getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:     getenv("MINIO_BUCKET", "flowdesk-exports"),
		MinioUseSSL:     getenv("MINIO_USE_SSL", "false") == "true",
		SMTPHost:        getenv("SMTP_HOST", ""),
		SMTPPort:        getenv("SMTP_PORT", "587"),
		SMTPUsername:    getenv("SMTP_USERNAME", ""),
		SMTPPassword:    getenv("SMTP_PASSWORD", ""),
		SMTPFrom:        getenv("SMTP_FROM", ""),
		SMTPFromName:    getenv("SMTP_FROM_NAME", "FlowDesk"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
