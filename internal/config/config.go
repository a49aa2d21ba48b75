package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type SchedulerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Workers       int           `mapstructure:"workers"`
	MisfireGrace  time.Duration `mapstructure:"misfire_grace"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type SyncConfig struct {
	Workers   int    `mapstructure:"workers"`
	BatchSize int    `mapstructure:"batch_size"`
	TempDir   string `mapstructure:"temp_dir"`
}

type RagConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Config struct {
	DatabaseURL string          `mapstructure:"database_url"`
	ServerPort  string          `mapstructure:"server_port"`
	JWTSecret   string          `mapstructure:"jwt_secret"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Sync        SyncConfig      `mapstructure:"sync"`
	Rag         RagConfig       `mapstructure:"rag"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.DatabaseURL == "" {
		log.Fatal("Database URL must be set in the config file")
	}
	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}
	if config.Cache.Addr == "" {
		config.Cache.Addr = "localhost:6379"
	}
	if config.Cache.LockTTL == 0 {
		config.Cache.LockTTL = 30 * time.Minute
	}
	if config.Scheduler.PollInterval == 0 {
		config.Scheduler.PollInterval = 5 * time.Second
	}
	if config.Scheduler.Workers == 0 {
		config.Scheduler.Workers = 4
	}
	if config.Scheduler.MisfireGrace == 0 {
		config.Scheduler.MisfireGrace = 60 * time.Second
	}
	if config.Scheduler.ShutdownGrace == 0 {
		config.Scheduler.ShutdownGrace = 30 * time.Second
	}
	if config.Sync.Workers == 0 {
		config.Sync.Workers = 5
	}
	if config.Sync.BatchSize == 0 {
		config.Sync.BatchSize = 5
	}
	if config.Sync.TempDir == "" {
		config.Sync.TempDir = "/tmp"
	}
	if config.Rag.Timeout == 0 {
		config.Rag.Timeout = 5 * time.Minute
	}

	return &config
}
