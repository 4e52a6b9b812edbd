// Package config loads service configuration from an optional YAML file and
// WALLETD_-prefixed environment variables, with defaults for local use.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Lock      LockConfig      `mapstructure:"lock"`
	Transport TransportConfig `mapstructure:"transport"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Request   string `mapstructure:"request"`
	Completed string `mapstructure:"completed"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// LockConfig tunes the multi-key lock manager. All durations are in
// milliseconds.
type LockConfig struct {
	TTLMs        int `mapstructure:"ttl_ms"`
	RetryDelayMs int `mapstructure:"retry_delay_ms"`
	MaxRetries   int `mapstructure:"max_retries"`
}

// TTL returns the lease TTL as a duration.
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}

// RetryDelay returns the backoff base delay as a duration.
func (c LockConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

type TransportConfig struct {
	Kind string `mapstructure:"kind"` // "kafka" or "nats"
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic.request", "wallet.transfer.requested")
	v.SetDefault("kafka.topic.completed", "wallet.transfer.completed")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("lock.ttl_ms", 3000)
	v.SetDefault("lock.retry_delay_ms", 50)
	v.SetDefault("lock.max_retries", 5)
	v.SetDefault("transport.kind", "kafka")
	v.SetDefault("metrics.addr", ":9090")
}

// Load reads the configuration. An empty path skips the file and uses
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("WALLETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Transport.Kind != "kafka" && cfg.Transport.Kind != "nats" {
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
	return cfg, nil
}
