// Package config loads service configuration from an optional YAML file and
// IPGUARD_* environment variable overrides, then validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ipguard/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables.
// Precedence: defaults < file < environment. The merged configuration is
// validated before being returned; an invalid configuration is a startup
// failure, never a silent default.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("IPGUARD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("IPGUARD_HOST"); host != "" {
		config.Server.Host = host
	}
	if timeout := os.Getenv("IPGUARD_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}
	if timeout := os.Getenv("IPGUARD_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	// Storage configuration
	if storageType := os.Getenv("IPGUARD_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if dsn := os.Getenv("IPGUARD_DATABASE_DSN"); dsn != "" {
		config.Storage.Database.DSN = dsn
	}

	// Rate limiting
	if enabled := os.Getenv("IPGUARD_RATELIMIT_ENABLED"); enabled != "" {
		config.RateLimit.Enabled = strings.ToLower(enabled) == "true"
	}
	if window := os.Getenv("IPGUARD_RATELIMIT_WINDOW_SECONDS"); window != "" {
		if w, err := strconv.Atoi(window); err == nil {
			config.RateLimit.WindowSeconds = w
		}
	}
	if limit := os.Getenv("IPGUARD_RATELIMIT_AUTHENTICATED_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.RateLimit.AuthenticatedLimit = l
		}
	}
	if limit := os.Getenv("IPGUARD_RATELIMIT_ANONYMOUS_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.RateLimit.AnonymousLimit = l
		}
	}
	if policy := os.Getenv("IPGUARD_RATELIMIT_FAILURE_POLICY"); policy != "" {
		config.RateLimit.FailurePolicy = strings.ToLower(policy)
	}
	if counterType := os.Getenv("IPGUARD_COUNTER_TYPE"); counterType != "" {
		config.RateLimit.Counter.Type = counterType
	}
	if addr := os.Getenv("IPGUARD_REDIS_ADDR"); addr != "" {
		config.RateLimit.Counter.Redis.Addr = addr
	}
	if password := os.Getenv("IPGUARD_REDIS_PASSWORD"); password != "" {
		config.RateLimit.Counter.Redis.Password = password
	}

	// Detection
	if interval := os.Getenv("IPGUARD_SCAN_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Detection.ScanInterval = d
		}
	}
	if interval := os.Getenv("IPGUARD_ESCALATE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Detection.EscalateInterval = d
		}
	}
	if interval := os.Getenv("IPGUARD_REAP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Detection.ReapInterval = d
		}
	}
	if days := os.Getenv("IPGUARD_RETENTION_DAYS"); days != "" {
		if d, err := strconv.Atoi(days); err == nil {
			config.Detection.RetentionDays = d
		}
	}

	// Security
	if auth := os.Getenv("IPGUARD_ENABLE_AUTH"); auth != "" {
		config.Security.EnableAuth = strings.ToLower(auth) == "true"
	}
	if token := os.Getenv("IPGUARD_ADMIN_TOKEN"); token != "" {
		config.Security.AdminToken = token
	}

	// Logging
	if level := os.Getenv("IPGUARD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("IPGUARD_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("IPGUARD_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	// Metrics
	if enabled := os.Getenv("IPGUARD_METRICS_ENABLED"); enabled != "" {
		config.Metrics.Enabled = strings.ToLower(enabled) == "true"
	}
	if port := os.Getenv("IPGUARD_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}
}
