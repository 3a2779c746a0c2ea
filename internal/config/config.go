package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	API     APIConfig     `mapstructure:"api"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Access  AccessConfig  `mapstructure:"access"`
	Console ConsoleConfig `mapstructure:"console"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Desk    DeskConfig    `mapstructure:"desk"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// APIConfig defines how the play-area API is reached
type APIConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	Timeout         string `mapstructure:"timeout"`
	RetryMax        int    `mapstructure:"retry_max"` // GET requests only
	RetryWaitMin    string `mapstructure:"retry_wait_min"`
	RetryWaitMax    string `mapstructure:"retry_wait_max"`
	BranchCacheSize int    `mapstructure:"branch_cache_size"`
	BranchCacheTTL  string `mapstructure:"branch_cache_ttl"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type       string      `mapstructure:"type"` // "memory" or "redis"
	MemorySize int         `mapstructure:"memory_size"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"` // 0 when Host already includes the port
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AccessConfig defines where the role access policy is loaded from
type AccessConfig struct {
	PolicyDir string `mapstructure:"policy_dir"` // empty uses the built-in table
}

// ConsoleConfig defines console session and HTTP settings
type ConsoleConfig struct {
	SessionTimeout string   `mapstructure:"session_timeout"`
	ScanStateTTL   string   `mapstructure:"scan_state_ttl"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	CookieName     string   `mapstructure:"cookie_name"`
	SecureCookie   bool     `mapstructure:"secure_cookie"`
	RateLimit      int      `mapstructure:"rate_limit"` // requests per minute per identity
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// FeedConfig defines the active session feed timers
type FeedConfig struct {
	RefreshInterval  string `mapstructure:"refresh_interval"`
	DisplayInterval  string `mapstructure:"display_interval"`
	SnapshotTTL      string `mapstructure:"snapshot_ttl"`
	NearLimitMinutes int    `mapstructure:"near_limit_minutes"`
}

// DeskConfig defines terminal client settings
type DeskConfig struct {
	SessionFile string `mapstructure:"session_file"`
	BranchID    string `mapstructure:"branch_id"`
}

// Load loads configuration from file and environment variables. A .env file
// in the working directory, if present, is applied to the environment first.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PLAYDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// API defaults
	v.SetDefault("api.base_url", "http://localhost:8001/api")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.retry_max", 3)
	v.SetDefault("api.retry_wait_min", "200ms")
	v.SetDefault("api.retry_wait_max", "2s")
	v.SetDefault("api.branch_cache_size", 64)
	v.SetDefault("api.branch_cache_ttl", "5m")

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.memory_size", 1024)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Access defaults
	v.SetDefault("access.policy_dir", "")

	// Console defaults
	v.SetDefault("console.session_timeout", "12h")
	v.SetDefault("console.scan_state_ttl", "30m")
	v.SetDefault("console.jwt_secret", "")
	v.SetDefault("console.cookie_name", "playdesk_session")
	v.SetDefault("console.secure_cookie", false)
	v.SetDefault("console.rate_limit", 120)
	v.SetDefault("console.rate_limit_burst", 20)
	v.SetDefault("console.allowed_origins", []string{})

	// Feed defaults
	v.SetDefault("feed.refresh_interval", "30s")
	v.SetDefault("feed.display_interval", "60s")
	v.SetDefault("feed.snapshot_ttl", "10m")
	v.SetDefault("feed.near_limit_minutes", 15)

	// Desk defaults
	v.SetDefault("desk.session_file", "")
	v.SetDefault("desk.branch_id", "")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api base_url is required")
	}
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api base_url: %q", cfg.API.BaseURL)
	}
	if cfg.API.RetryMax < 0 {
		return fmt.Errorf("api retry_max must not be negative")
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "memory"
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or redis)", cfg.Storage.Type)
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "", "json", "console", "text":
	default:
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	durations := map[string]string{
		"api.timeout":                 cfg.API.Timeout,
		"api.retry_wait_min":          cfg.API.RetryWaitMin,
		"api.retry_wait_max":          cfg.API.RetryWaitMax,
		"api.branch_cache_ttl":        cfg.API.BranchCacheTTL,
		"console.session_timeout":     cfg.Console.SessionTimeout,
		"console.scan_state_ttl":      cfg.Console.ScanStateTTL,
		"feed.refresh_interval":       cfg.Feed.RefreshInterval,
		"feed.display_interval":       cfg.Feed.DisplayInterval,
		"feed.snapshot_ttl":           cfg.Feed.SnapshotTTL,
		"storage.redis.dial_timeout":  cfg.Storage.Redis.DialTimeout,
		"storage.redis.read_timeout":  cfg.Storage.Redis.ReadTimeout,
		"storage.redis.write_timeout": cfg.Storage.Redis.WriteTimeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", key)
		}
	}

	for _, key := range []string{"feed.refresh_interval", "feed.display_interval"} {
		if d, _ := time.ParseDuration(durations[key]); d == 0 {
			return fmt.Errorf("invalid %s: must be greater than zero", key)
		}
	}

	if cfg.Console.RateLimit < 0 || cfg.Console.RateLimitBurst < 0 {
		return fmt.Errorf("console rate limits must not be negative")
	}

	return nil
}

// Duration parses a duration that validate has already checked.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Defaults returns the configuration produced by the defaults alone.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Keys returns every configuration key that has a default.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	return v.AllKeys()
}
