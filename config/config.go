package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

/* Config é um pacote auxiliar. Poderia ser uma lib externa*/

type Config struct {
	Port          string `mapstructure:"PORT"`
	EndpointsFile string `mapstructure:"ENDPOINTS_FILE"`

	// Admission control
	MaxConcurrent        int `mapstructure:"MAX_CONCURRENT"`
	MaxPerSource         int `mapstructure:"MAX_PER_SOURCE"`
	QueueTimeoutSeconds  int `mapstructure:"QUEUE_TIMEOUT_SECONDS"`
	MaxConnectionMinutes int `mapstructure:"MAX_CONNECTION_MINUTES"`
	SlowThresholdSeconds int `mapstructure:"SLOW_THRESHOLD_SECONDS"`

	// Upstream health probing
	ProbeIntervalMinutes int `mapstructure:"PROBE_INTERVAL_MINUTES"`
	ProbeTimeoutSeconds  int `mapstructure:"PROBE_TIMEOUT_SECONDS"`

	// Secondary content network fallback
	FallbackEnabled bool   `mapstructure:"FALLBACK_ENABLED"`
	FallbackGateway string `mapstructure:"FALLBACK_GATEWAY"`

	// Webhook delivery storage: "memory" or "redis"
	WebhookStore  string `mapstructure:"WEBHOOK_STORE"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	setDefaults()
	err := viper.ReadInConfig()
	if err != nil {
		// Missing config file is fine, env vars and defaults still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	var config Config
	err = viper.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "3000")
	viper.SetDefault("ENDPOINTS_FILE", "endpoints.yaml")
	viper.SetDefault("MAX_CONCURRENT", 100)
	viper.SetDefault("MAX_PER_SOURCE", 10)
	viper.SetDefault("QUEUE_TIMEOUT_SECONDS", 30)
	viper.SetDefault("MAX_CONNECTION_MINUTES", 5)
	viper.SetDefault("SLOW_THRESHOLD_SECONDS", 5)
	viper.SetDefault("PROBE_INTERVAL_MINUTES", 5)
	viper.SetDefault("PROBE_TIMEOUT_SECONDS", 5)
	viper.SetDefault("FALLBACK_ENABLED", false)
	viper.SetDefault("WEBHOOK_STORE", "memory")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
}

// QueueTimeout returns the maximum time a connection may wait for a pool slot.
func (c *Config) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutSeconds) * time.Second
}

// MaxConnectionDuration returns the wall-clock lifetime ceiling for a connection.
func (c *Config) MaxConnectionDuration() time.Duration {
	return time.Duration(c.MaxConnectionMinutes) * time.Minute
}

// SlowThreshold returns the duration above which a request is logged as slow.
func (c *Config) SlowThreshold() time.Duration {
	return time.Duration(c.SlowThresholdSeconds) * time.Second
}

// ProbeInterval returns the pause between upstream health-check cycles.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMinutes) * time.Minute
}

// ProbeTimeout returns the per-probe HTTP timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}
