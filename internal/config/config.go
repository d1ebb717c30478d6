package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`
	LogMode     string `mapstructure:"log_mode"`
	Env         string `mapstructure:"env"`

	Auth       AuthConfig       `mapstructure:"auth"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
}

type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`         // HS256 secret for admin bearer tokens
	AdminAPIKeyHash string `mapstructure:"admin_api_key_hash"` // bcrypt hash of the operator API key
}

type EscalationConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	ScanOnStart  bool          `mapstructure:"scan_on_start"`
	SignalQueue  string        `mapstructure:"signal_queue"` // empty disables PGMQ signals
	Level1Target string        `mapstructure:"level1_target"` // empty keeps the current assignee
	Level2Target string        `mapstructure:"level2_target"`
}

type CatalogConfig struct {
	SeedOnStart bool          `mapstructure:"seed_on_start"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"` // max age of a process's catalog snapshot
}

// App holds the global config instance
var App Config

// PathFromEnv returns the explicit config file path, if any.
func PathFromEnv() string {
	return os.Getenv("MASAJID_CONFIG_PATH")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// .env is a local development convenience; absent in containers
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("log_mode", "dev")
	v.SetDefault("env", "development")
	v.SetDefault("escalation.scan_interval", "1h")
	v.SetDefault("escalation.scan_on_start", true)
	v.SetDefault("escalation.signal_queue", "")
	v.SetDefault("catalog.seed_on_start", false)
	v.SetDefault("catalog.cache_ttl", "1m")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("masajid")

	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("log_mode", "LOG_MODE")
	_ = v.BindEnv("env", "MASAJID_ENV")

	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.admin_api_key_hash", "ADMIN_API_KEY_HASH")

	_ = v.BindEnv("escalation.scan_interval", "DELAY_SCAN_INTERVAL")
	_ = v.BindEnv("escalation.scan_on_start", "DELAY_SCAN_ON_START")
	_ = v.BindEnv("escalation.signal_queue", "ESCALATION_SIGNAL_QUEUE")
	_ = v.BindEnv("escalation.level1_target", "ESCALATION_LEVEL1_TARGET")
	_ = v.BindEnv("escalation.level2_target", "ESCALATION_LEVEL2_TARGET")
	_ = v.BindEnv("catalog.seed_on_start", "CATALOG_SEED_ON_START")
	_ = v.BindEnv("catalog.cache_ttl", "CATALOG_CACHE_TTL")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("Loaded config from: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	if cfg.Escalation.ScanInterval <= 0 {
		cfg.Escalation.ScanInterval = time.Hour
	}

	App = cfg
	return nil
}
