// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrWorkerURLRequired is returned when WORKER_URL is not set.
	ErrWorkerURLRequired = errors.New("config: WORKER_URL is required")
	// ErrAllowedChannelsRequired is returned when ALLOWED_CHANNEL_IDS is not set.
	ErrAllowedChannelsRequired = errors.New("config: ALLOWED_CHANNEL_IDS is required")
	// ErrStreamAccountRequired is returned when STREAM_ACCOUNT_ID is not set.
	ErrStreamAccountRequired = errors.New("config: STREAM_ACCOUNT_ID is required")
	// ErrStreamTokenRequired is returned when STREAM_API_TOKEN is not set.
	ErrStreamTokenRequired = errors.New("config: STREAM_API_TOKEN is required")
	// ErrTwitchClientRequired is returned when TWITCH_CLIENT_ID or TWITCH_CLIENT_SECRET is not set.
	ErrTwitchClientRequired = errors.New("config: TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET are required")
	// ErrJWTSecretRequired is returned when JWT_SECRET is not set.
	ErrJWTSecretRequired = errors.New("config: JWT_SECRET is required")
)

// requiredVars maps required variables to the error reported when missing.
var requiredVars = []struct {
	name string
	err  error
}{
	{"WORKER_URL", ErrWorkerURLRequired},
	{"ALLOWED_CHANNEL_IDS", ErrAllowedChannelsRequired},
	{"STREAM_ACCOUNT_ID", ErrStreamAccountRequired},
	{"STREAM_API_TOKEN", ErrStreamTokenRequired},
	{"TWITCH_CLIENT_ID", ErrTwitchClientRequired},
	{"TWITCH_CLIENT_SECRET", ErrTwitchClientRequired},
	{"JWT_SECRET", ErrJWTSecretRequired},
}

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int      `env:"PORT, default=8080" json:"port"`
	CORSOrigins []string `env:"CORS_ORIGINS" json:"cors_origins,omitempty"`

	// Extraction worker settings
	WorkerURL         string        `env:"WORKER_URL, required" json:"worker_url"`
	PollInterval      time.Duration `env:"POLL_INTERVAL, default=5s" json:"poll_interval"`
	IngestMaxWait     time.Duration `env:"INGEST_MAX_WAIT, default=10m" json:"ingest_max_wait"`
	AllowedChannelIDs []string      `env:"ALLOWED_CHANNEL_IDS, required" json:"allowed_channel_ids"`
	FFprobePath       string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Live capture worker; capture is disabled when unset
	CaptureWorkerURL string `env:"CAPTURE_WORKER_URL" json:"capture_worker_url,omitempty"`

	// Staging settings; S3 is used when a bucket and region are set.
	StagingDir         string `env:"STAGING_DIR, default=/tmp/clipvault" json:"staging_dir"`
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Video storage provider settings
	StreamAccountID string `env:"STREAM_ACCOUNT_ID, required" json:"stream_account_id"`
	StreamAPIToken  string `env:"STREAM_API_TOKEN, required" json:"-"` // Masked in JSON
	StreamBaseURL   string `env:"STREAM_BASE_URL, default=https://api.cloudflare.com/client/v4" json:"stream_base_url"`

	// Identity provider and Helix settings
	TwitchClientID      string `env:"TWITCH_CLIENT_ID, required" json:"twitch_client_id"`
	TwitchClientSecret  string `env:"TWITCH_CLIENT_SECRET, required" json:"-"` // Masked in JSON
	TwitchIdentityURL   string `env:"TWITCH_IDENTITY_URL, default=https://id.twitch.tv" json:"twitch_identity_url"`
	TwitchHelixURL      string `env:"TWITCH_HELIX_URL, default=https://api.twitch.tv" json:"twitch_helix_url"`
	TwitchBroadcasterID string `env:"TWITCH_BROADCASTER_ID" json:"twitch_broadcaster_id,omitempty"`
	TwitchDeveloperID   int64  `env:"TWITCH_DEVELOPER_ID" json:"twitch_developer_id,omitempty"`

	// Session settings
	JWTSecret string `env:"JWT_SECRET, required" json:"-"` // Masked in JSON

	// Persistence settings; in-memory stores are used when unset.
	MongoURI string `env:"MONGO_URI" json:"-"` // Masked in JSON, may embed credentials
	MongoDB  string `env:"MONGO_DB, default=clipvault" json:"mongo_db"`
	RedisURL string `env:"REDIS_URL" json:"-"` // Masked in JSON, may embed credentials

	// Orphaned asset cleanup
	OrphanSweepInterval time.Duration `env:"ORPHAN_SWEEP_INTERVAL, default=1m" json:"orphan_sweep_interval"`
	OrphanMaxAttempts   int           `env:"ORPHAN_MAX_ATTEMPTS, default=10" json:"orphan_max_attempts"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MongoEnabled returns true if a MongoDB URI is provided.
func (c *Config) MongoEnabled() bool {
	return c.MongoURI != ""
}

// RedisEnabled returns true if a Redis URL is provided.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// StatusEnabled returns true if broadcaster status lookups are configured.
func (c *Config) StatusEnabled() bool {
	return c.TwitchBroadcasterID != ""
}

// CaptureEnabled returns true if a live capture worker is configured.
func (c *Config) CaptureEnabled() bool {
	return c.CaptureWorkerURL != ""
}

// Load reads a .env file from the working directory, if present, and then
// configuration from environment variables using go-envconfig. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		for _, rv := range requiredVars {
			if strings.Contains(err.Error(), rv.name) {
				return nil, rv.err
			}
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	switch {
	case c.WorkerURL == "":
		return ErrWorkerURLRequired
	case len(c.AllowedChannelIDs) == 0:
		return ErrAllowedChannelsRequired
	case c.StreamAccountID == "":
		return ErrStreamAccountRequired
	case c.StreamAPIToken == "":
		return ErrStreamTokenRequired
	case c.TwitchClientID == "" || c.TwitchClientSecret == "":
		return ErrTwitchClientRequired
	case c.JWTSecret == "":
		return ErrJWTSecretRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, WorkerURL: %s, AllowedChannelIDs: %v, StagingDir: %s, S3Bucket: %s, S3Region: %s, StreamAccountID: %s, TwitchClientID: %s, Capture: %t, Mongo: %t, Redis: %t, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.WorkerURL,
		c.AllowedChannelIDs,
		c.StagingDir,
		c.S3Bucket,
		c.S3Region,
		c.StreamAccountID,
		c.TwitchClientID,
		c.CaptureEnabled(),
		c.MongoEnabled(),
		c.RedisEnabled(),
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
