package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultBindAddr = "127.0.0.1:8190"
	defaultLogFile  = "logs/styleurld.log"
)

// Config holds all configuration for styleurld.
type Config struct {
	// Remote API
	BackendURL  string `yaml:"backend_url"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`

	// HTTP surface
	BindAddr         string   `yaml:"bind_addr"`
	PortCandidates   []string `yaml:"port_candidates"`
	PortAutoFallback bool     `yaml:"port_auto_fallback"`

	// CDP connection settings
	CDPAddress string `yaml:"cdp_address"`
	CDPPort    int    `yaml:"cdp_port"`

	// User alerts go to the log only when empty.
	NotifyEndpoint string `yaml:"notify_endpoint"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BackendURL:       "http://localhost:3001",
		Version:          "0.1.0",
		Environment:      "development",
		BindAddr:         defaultBindAddr,
		PortCandidates:   []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"},
		PortAutoFallback: true,
		CDPAddress:       "127.0.0.1",
		CDPPort:          9220,
		LogLevel:         "info",
		LogFile:          defaultLogFile,
	}
}

// Load reads configuration from an optional .env file, an optional YAML file
// named by STYLEURL_CONFIG_FILE, and environment variables, in increasing
// order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := Default()
	if path := os.Getenv("STYLEURL_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.BackendURL = strings.TrimRight(getEnvOrDefault("STYLEURL_BACKEND_URL", cfg.BackendURL), "/")
	cfg.Version = getEnvOrDefault("STYLEURL_VERSION", cfg.Version)
	cfg.Environment = getEnvOrDefault("STYLEURL_ENV", cfg.Environment)
	cfg.BindAddr = getEnvOrDefault("STYLEURL_BIND_ADDR", cfg.BindAddr)
	cfg.PortCandidates = getEnvListOrDefault("STYLEURL_PORT_CANDIDATES", cfg.PortCandidates)
	cfg.PortAutoFallback = getEnvBoolOrDefault("STYLEURL_PORT_AUTO_FALLBACK", cfg.PortAutoFallback)
	cfg.CDPAddress = getEnvOrDefault("CHROMIUM_CDP_ADDRESS", cfg.CDPAddress)
	cfg.CDPPort = getEnvIntOrDefault("CHROMIUM_CDP_PORT", cfg.CDPPort)
	cfg.NotifyEndpoint = getEnvOrDefault("STYLEURL_NOTIFY_ENDPOINT", cfg.NotifyEndpoint)
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("STYLEURL_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFile = getEnvOrDefault("STYLEURL_LOG_FILE", cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("config: backend url is required")
	}
	if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("config: backend url must be http(s): %s", c.BackendURL)
	}
	if c.CDPPort < 1 || c.CDPPort > 65535 {
		return fmt.Errorf("config: cdp port out of range: %d", c.CDPPort)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// CDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma separated value, dropping empty items.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
