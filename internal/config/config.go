package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Delivery    DeliveryConfig `mapstructure:"delivery"`
	Health      HealthConfig   `mapstructure:"health"`
	Replay      ReplayConfig   `mapstructure:"replay"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DeliveryConfig struct {
	Timeout       time.Duration   `mapstructure:"timeout"`
	MaxAttempts   int             `mapstructure:"max_attempts"`
	RetrySchedule []time.Duration `mapstructure:"retry_schedule"`
	Source        string          `mapstructure:"source"`
}

type HealthConfig struct {
	MaxFailedEvents int           `mapstructure:"max_failed_events"`
	RetentionDays   int           `mapstructure:"retention_days"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type ReplayConfig struct {
	WindowDays int `mapstructure:"window_days"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IsProduction gates the HTTPS-only rule for subscription URLs.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("hookd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hookd")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HOOKD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/hookd.db")

	viper.SetDefault("delivery.timeout", 30*time.Second)
	viper.SetDefault("delivery.max_attempts", 3)
	viper.SetDefault("delivery.retry_schedule", []time.Duration{
		1 * time.Second,
		5 * time.Second,
		15 * time.Second,
	})
	viper.SetDefault("delivery.source", "forgecrm")

	viper.SetDefault("health.max_failed_events", 10)
	viper.SetDefault("health.retention_days", 30)
	viper.SetDefault("health.sweep_interval", 1*time.Hour)

	viper.SetDefault("replay.window_days", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
