// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Store     StoreConfig     `mapstructure:"store"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs worker invocation and the runner pool.
type ScraperConfig struct {
	// Concurrency is the runner pool size, the hard cap on concurrently
	// executing worker processes.
	Concurrency int `mapstructure:"concurrency"`
	// QueueDepth bounds the pending task queue.
	QueueDepth int `mapstructure:"queue_depth"`
	// WorkerDir is the directory holding the per-site worker scripts.
	WorkerDir string `mapstructure:"worker_dir"`
	// PythonBin is the interpreter used to launch workers.
	PythonBin string `mapstructure:"python_bin"`
	// TimeoutSeconds bounds one worker run unless the job overrides it.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxItemsDefault / MaxItemsCap bound per-job item counts.
	MaxItemsDefault int `mapstructure:"max_items_default"`
	MaxItemsCap     int `mapstructure:"max_items_cap"`
	// RetriesDefault / MaxRetries bound re-invocation after failures.
	RetriesDefault int `mapstructure:"retries_default"`
	MaxRetries     int `mapstructure:"max_retries"`
	// QuotaPerUser caps a user's concurrently active jobs.
	QuotaPerUser int `mapstructure:"quota_per_user"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Provider is "postgres" or "memory".
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// ArtifactsConfig selects where raw worker output is archived.
type ArtifactsConfig struct {
	// Provider is "gcs", "local" or "noop".
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// SessionsConfig selects the CAPTCHA session store.
type SessionsConfig struct {
	// Provider is "memory" or "redis".
	Provider      string `mapstructure:"provider"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
}

// NotifyConfig configures terminal-job event publishing.
type NotifyConfig struct {
	// Provider is "pubsub" or "noop".
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.queue_depth", 64)
	v.SetDefault("scraper.worker_dir", "workers")
	v.SetDefault("scraper.python_bin", "python3")
	v.SetDefault("scraper.timeout_seconds", 300)
	v.SetDefault("scraper.max_items_default", 10)
	v.SetDefault("scraper.max_items_cap", 100)
	v.SetDefault("scraper.retries_default", 0)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.quota_per_user", 3)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("artifacts.provider", "noop")
	v.SetDefault("artifacts.local_dir", "data/artifacts")
	v.SetDefault("sessions.provider", "memory")
	v.SetDefault("sessions.ttl_seconds", 600)
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("notify.topic", "scrape-jobs")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.QuotaPerUser <= 0 {
		return fmt.Errorf("scraper.quota_per_user must be > 0")
	}
	if c.Scraper.WorkerDir == "" {
		return fmt.Errorf("scraper.worker_dir must be set")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	switch c.Artifacts.Provider {
	case "noop", "local":
	case "gcs":
		if c.Artifacts.GCSBucket == "" {
			return fmt.Errorf("artifacts.gcs_bucket must be set when artifacts.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown artifacts.provider %q", c.Artifacts.Provider)
	}
	switch c.Sessions.Provider {
	case "memory":
	case "redis":
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("sessions.redis_addr must be set when sessions.provider is redis")
		}
	default:
		return fmt.Errorf("unknown sessions.provider %q", c.Sessions.Provider)
	}
	switch c.Notify.Provider {
	case "noop":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}
	return nil
}

// WorkerTimeout converts the scraper timeout into a duration.
func (c Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// SessionTTL converts the session TTL into a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLSeconds) * time.Second
}
