package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/playdesk/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the PlayDesk configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with non-default values highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "WARNING: found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults())

		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	valid := map[string]bool{}
	for _, key := range config.Keys() {
		valid[key] = true
	}

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  port", cfg.Server.Port, defaultCfg.Server.Port, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)

	_, _ = cyan.Println("\n[api]")
	dumpField("  base_url", cfg.API.BaseURL, defaultCfg.API.BaseURL, yellow, green)
	dumpField("  timeout", cfg.API.Timeout, defaultCfg.API.Timeout, yellow, green)
	dumpField("  retry_max", cfg.API.RetryMax, defaultCfg.API.RetryMax, yellow, green)
	dumpField("  retry_wait_min", cfg.API.RetryWaitMin, defaultCfg.API.RetryWaitMin, yellow, green)
	dumpField("  retry_wait_max", cfg.API.RetryWaitMax, defaultCfg.API.RetryWaitMax, yellow, green)
	dumpField("  branch_cache_size", cfg.API.BranchCacheSize, defaultCfg.API.BranchCacheSize, yellow, green)
	dumpField("  branch_cache_ttl", cfg.API.BranchCacheTTL, defaultCfg.API.BranchCacheTTL, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  memory_size", cfg.Storage.MemorySize, defaultCfg.Storage.MemorySize, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redact(cfg.Storage.Redis.Password), redact(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	_, _ = cyan.Println("\n[access]")
	dumpField("  policy_dir", cfg.Access.PolicyDir, defaultCfg.Access.PolicyDir, yellow, green)

	_, _ = cyan.Println("\n[console]")
	dumpField("  session_timeout", cfg.Console.SessionTimeout, defaultCfg.Console.SessionTimeout, yellow, green)
	dumpField("  scan_state_ttl", cfg.Console.ScanStateTTL, defaultCfg.Console.ScanStateTTL, yellow, green)
	dumpField("  jwt_secret", redact(cfg.Console.JWTSecret), redact(defaultCfg.Console.JWTSecret), yellow, green)
	dumpField("  cookie_name", cfg.Console.CookieName, defaultCfg.Console.CookieName, yellow, green)
	dumpField("  secure_cookie", cfg.Console.SecureCookie, defaultCfg.Console.SecureCookie, yellow, green)
	dumpField("  rate_limit", cfg.Console.RateLimit, defaultCfg.Console.RateLimit, yellow, green)
	dumpField("  rate_limit_burst", cfg.Console.RateLimitBurst, defaultCfg.Console.RateLimitBurst, yellow, green)
	dumpField("  allowed_origins", cfg.Console.AllowedOrigins, defaultCfg.Console.AllowedOrigins, yellow, green)

	_, _ = cyan.Println("\n[feed]")
	dumpField("  refresh_interval", cfg.Feed.RefreshInterval, defaultCfg.Feed.RefreshInterval, yellow, green)
	dumpField("  display_interval", cfg.Feed.DisplayInterval, defaultCfg.Feed.DisplayInterval, yellow, green)
	dumpField("  snapshot_ttl", cfg.Feed.SnapshotTTL, defaultCfg.Feed.SnapshotTTL, yellow, green)
	dumpField("  near_limit_minutes", cfg.Feed.NearLimitMinutes, defaultCfg.Feed.NearLimitMinutes, yellow, green)

	_, _ = cyan.Println("\n[desk]")
	dumpField("  session_file", cfg.Desk.SessionFile, defaultCfg.Desk.SessionFile, yellow, green)
	dumpField("  branch_id", cfg.Desk.BranchID, defaultCfg.Desk.BranchID, yellow, green)
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redact hides a secret if it is set
func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
