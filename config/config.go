package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Registry   RegistryConfig   `yaml:"registry"`
	Commands   CommandsConfig   `yaml:"commands"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port               int     `yaml:"port"`
	RateLimitPerSec    float64 `yaml:"rate_limit_per_sec"`
	RateBurst          int     `yaml:"rate_burst"`
	ResultsTTLSeconds  int     `yaml:"results_cache_ttl_seconds"`
	ResultsTTL         time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RegistryConfig holds the device registry policy and janitor thresholds.
type RegistryConfig struct {
	IPMismatchPolicy     string        `yaml:"ip_mismatch_policy"`
	InactiveAfterSeconds int           `yaml:"inactive_after_seconds"`
	DeleteAfterSeconds   int           `yaml:"delete_after_seconds"`
	SweepIntervalSeconds int           `yaml:"sweep_interval_seconds"`
	InactiveAfter        time.Duration `yaml:"-"`
	DeleteAfter          time.Duration `yaml:"-"`
	SweepInterval        time.Duration `yaml:"-"`
}

// CommandsConfig names the control-plane topics for broadcast commands.
type CommandsConfig struct {
	StartTopic string `yaml:"start_topic"`
	StopTopic  string `yaml:"stop_topic"`
}

// PushConfig holds the VAPID keys for operator web push alerts.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 5
	}
	if cfg.Server.ResultsTTLSeconds <= 0 {
		cfg.Server.ResultsTTLSeconds = 60 * 60 * 24
	}
	cfg.Server.ResultsTTL = time.Duration(cfg.Server.ResultsTTLSeconds) * time.Second

	if cfg.Registry.IPMismatchPolicy == "" {
		cfg.Registry.IPMismatchPolicy = "quarantine"
	}
	if cfg.Registry.InactiveAfterSeconds <= 0 {
		cfg.Registry.InactiveAfterSeconds = 60
	}
	if cfg.Registry.DeleteAfterSeconds <= 0 {
		cfg.Registry.DeleteAfterSeconds = 20 * 60
	}
	if cfg.Registry.SweepIntervalSeconds <= 0 {
		cfg.Registry.SweepIntervalSeconds = 30
	}
	cfg.Registry.InactiveAfter = time.Duration(cfg.Registry.InactiveAfterSeconds) * time.Second
	cfg.Registry.DeleteAfter = time.Duration(cfg.Registry.DeleteAfterSeconds) * time.Second
	cfg.Registry.SweepInterval = time.Duration(cfg.Registry.SweepIntervalSeconds) * time.Second

	if cfg.Commands.StartTopic == "" {
		cfg.Commands.StartTopic = "sensors/cmd/start"
	}
	if cfg.Commands.StopTopic == "" {
		cfg.Commands.StopTopic = "sensors/cmd/stop"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
