package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `json:"server" envPrefix:"GLOWSCAN_SERVER_"`
	Storage StorageConfig `json:"storage" envPrefix:"GLOWSCAN_STORAGE_"`
	Remote  RemoteConfig  `json:"remote" envPrefix:"GLOWSCAN_REMOTE_"`
	Auth    AuthConfig    `json:"auth" envPrefix:"GLOWSCAN_AUTH_"`
	Chat    ChatConfig    `json:"chat" envPrefix:"GLOWSCAN_CHAT_"`
	Upload  UploadConfig  `json:"upload" envPrefix:"GLOWSCAN_UPLOAD_"`
}

type ServerConfig struct {
	Port      string `json:"port" env:"PORT"`
	Debug     bool   `json:"debug" env:"DEBUG"`
	JSONLogs  bool   `json:"json_logs" env:"JSON_LOGS"`
	RateLimit int    `json:"rate_limit" env:"RATE_LIMIT"` // messages per second per connection
	RateBurst int    `json:"rate_burst" env:"RATE_BURST"`
}

// StorageConfig selects the device key-value backend
type StorageConfig struct {
	Type        string `json:"type" env:"TYPE"` // sqlite, bolt, redis or memory
	Path        string `json:"path" env:"PATH"`
	RedisAddr   string `json:"redis_addr" env:"REDIS_ADDR"`
	RedisPrefix string `json:"redis_prefix" env:"REDIS_PREFIX"`
	QuotaBytes  int64  `json:"quota_bytes" env:"QUOTA_BYTES"`
	LRUEntries  int    `json:"lru_entries" env:"LRU_ENTRIES"`
}

// RemoteConfig selects where scan rows and image objects live
type RemoteConfig struct {
	Rows            string `json:"rows" env:"ROWS"` // sqlite or postgres
	DatabasePath    string `json:"database_path" env:"DATABASE_PATH"`
	PostgresDSN     string `json:"postgres_dsn" env:"POSTGRES_DSN"`
	Objects         string `json:"objects" env:"OBJECTS"` // disk or gcs
	ObjectsDir      string `json:"objects_dir" env:"OBJECTS_DIR"`
	PublicBaseURL   string `json:"public_base_url" env:"PUBLIC_BASE_URL"`
	Bucket          string `json:"bucket" env:"BUCKET"`
	CredentialsFile string `json:"credentials_file" env:"CREDENTIALS_FILE"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" env:"JWT_SECRET"`
}

type ChatConfig struct {
	Type            string `json:"type" env:"TYPE"` // google or openai, empty disables chat
	ProjectID       string `json:"project_id" env:"PROJECT_ID"`
	Location        string `json:"location" env:"LOCATION"`
	CredentialsFile string `json:"credentials_file" env:"CREDENTIALS_FILE"`
	Model           string `json:"model" env:"MODEL"`
	APIKey          string `json:"api_key" env:"API_KEY"`
	BaseURL         string `json:"base_url" env:"BASE_URL"`
}

type UploadConfig struct {
	GuardTTLSeconds int `json:"guard_ttl_seconds" env:"GUARD_TTL_SECONDS"`
}

// GuardTTL is zero when the upload guard never expires
func (u UploadConfig) GuardTTL() time.Duration {
	return time.Duration(u.GuardTTLSeconds) * time.Second
}

// LoadConfig reads the JSON file at configPath, applies environment
// overrides and fills defaults. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	var config Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 20
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 40
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Path == "" {
		switch c.Storage.Type {
		case "bolt":
			c.Storage.Path = "glowscan.bolt"
		default:
			c.Storage.Path = "glowscan.db"
		}
	}
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = "glowscan:"
	}

	if c.Remote.Rows == "" {
		c.Remote.Rows = "sqlite"
	}
	if c.Remote.DatabasePath == "" {
		c.Remote.DatabasePath = "remote.db"
	}
	if c.Remote.Objects == "" {
		c.Remote.Objects = "disk"
	}
	if c.Remote.ObjectsDir == "" {
		c.Remote.ObjectsDir = "./objects"
	}
	if c.Remote.PublicBaseURL == "" {
		c.Remote.PublicBaseURL = "http://localhost:" + c.Server.Port + "/objects"
	}
}

// Validate reports the first unusable setting
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite", "bolt", "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage type redis needs redis_addr")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Storage.QuotaBytes < 0 || c.Storage.LRUEntries < 0 {
		return fmt.Errorf("storage quota and lru entries must not be negative")
	}

	switch c.Remote.Rows {
	case "sqlite":
	case "postgres":
		if c.Remote.PostgresDSN == "" {
			return fmt.Errorf("remote rows postgres needs postgres_dsn")
		}
	default:
		return fmt.Errorf("unsupported remote rows: %s", c.Remote.Rows)
	}

	switch c.Remote.Objects {
	case "disk":
	case "gcs":
		if c.Remote.Bucket == "" {
			return fmt.Errorf("remote objects gcs needs bucket")
		}
	default:
		return fmt.Errorf("unsupported remote objects: %s", c.Remote.Objects)
	}

	switch c.Chat.Type {
	case "", "google", "openai":
	default:
		return fmt.Errorf("unsupported chat type: %s", c.Chat.Type)
	}

	if c.Upload.GuardTTLSeconds < 0 {
		return fmt.Errorf("upload guard ttl must not be negative")
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("GLOWSCAN_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
