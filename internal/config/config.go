// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	EtcdEndpoints  []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout    time.Duration `mapstructure:"etcd_timeout"`
	HttpListenAddr string        `mapstructure:"http_listen_addr"`

	// LockTTL is the default reservation window for item locks.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// LockBackend selects the lock ledger: "memory" for a single process,
	// "redis" when several API processes share the ledger.
	LockBackend string `mapstructure:"lock_backend"`
	RedisAddr   string `mapstructure:"redis_addr"`

	SweeperEnabled   bool          `mapstructure:"sweeper_enabled"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SweepConcurrency int           `mapstructure:"sweep_concurrency"`

	// KafkaBrokers enables the payment event feed when non-empty; the
	// webhook stays available either way.
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	KafkaGroupID string   `mapstructure:"kafka_group_id"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	viper.SetDefault("etcd_timeout", "5s")
	viper.SetDefault("http_listen_addr", ":8080")
	viper.SetDefault("lock_ttl", "20m")
	viper.SetDefault("lock_backend", "memory")
	viper.SetDefault("redis_addr", "localhost:6379")
	viper.SetDefault("sweeper_enabled", true)
	viper.SetDefault("sweep_interval", "2m")
	viper.SetDefault("sweep_concurrency", 4)
	viper.SetDefault("kafka_topic", "payment-events")
	viper.SetDefault("kafka_group_id", "inventory-reserve")

	// Set config file details
	viper.SetConfigName("config")    // name of config file (without extension)
	viper.SetConfigType("yaml")      // or "json", "toml"
	viper.AddConfigPath("./configs") // path to look for the config file in
	viper.AddConfigPath(".")         // optionally look for config in the working directory

	// Read environment variables
	viper.AutomaticEnv()

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; rely on defaults and env vars
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.LockBackend != "memory" && cfg.LockBackend != "redis" {
		return nil, fmt.Errorf("invalid lock_backend %q, want memory or redis", cfg.LockBackend)
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("lock_ttl must be positive, got %s", cfg.LockTTL)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep_interval must be positive, got %s", cfg.SweepInterval)
	}

	return &cfg, nil
}
