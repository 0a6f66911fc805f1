// Package models - Service configuration and operational settings.
//
// Configuration is hierarchical with logical grouping (server, storage,
// rate limiting, detection, ...), carries environment-friendly defaults
// that work out of the box, and is validated comprehensively at startup so
// misconfigurations fail fast instead of silently defaulting.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Counter store type constants
const (
	CounterTypeMemory = "memory"
	CounterTypeRedis  = "redis"
)

// Rate limiter behavior when the counter store is unavailable.
const (
	FailurePolicyOpen   = "open"   // admit the request, log the failure
	FailurePolicyClosed = "closed" // deny the request
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Detection     DetectionConfig     `yaml:"detection" json:"detection"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RateLimitConfig drives the inline admission decision on the request path.
type RateLimitConfig struct {
	Enabled            bool          `yaml:"enabled" json:"enabled"`
	WindowSeconds      int           `yaml:"window_seconds" json:"window_seconds"`
	AuthenticatedLimit int           `yaml:"authenticated_limit" json:"authenticated_limit"`
	AnonymousLimit     int           `yaml:"anonymous_limit" json:"anonymous_limit"`
	ExemptPaths        []string      `yaml:"exempt_paths" json:"exempt_paths"`
	StoreTimeout       time.Duration `yaml:"store_timeout" json:"store_timeout"`
	FailurePolicy      string        `yaml:"failure_policy" json:"failure_policy"`
	Counter            CounterConfig `yaml:"counter" json:"counter"`
}

// Window returns the configured window size as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type CounterConfig struct {
	Type  string      `yaml:"type" json:"type"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// DetectionConfig drives the batch anomaly detector, escalator, and reaper.
type DetectionConfig struct {
	Window           time.Duration `yaml:"window" json:"window"`
	ScanInterval     time.Duration `yaml:"scan_interval" json:"scan_interval"`
	EscalateInterval time.Duration `yaml:"escalate_interval" json:"escalate_interval"`
	ReapInterval     time.Duration `yaml:"reap_interval" json:"reap_interval"`
	QueryTimeout     time.Duration `yaml:"query_timeout" json:"query_timeout"`

	HighVolumeThreshold    int64 `yaml:"high_volume_threshold" json:"high_volume_threshold"`
	SensitivePathThreshold int64 `yaml:"sensitive_path_threshold" json:"sensitive_path_threshold"`
	FailedLoginThreshold   int64 `yaml:"failed_login_threshold" json:"failed_login_threshold"`
	AdminAccessThreshold   int64 `yaml:"admin_access_threshold" json:"admin_access_threshold"`
	BruteForceThreshold    int64 `yaml:"brute_force_threshold" json:"brute_force_threshold"`

	// EscalationThreshold is the number of distinct active reasons required
	// before an IP is promoted to the blocklist.
	EscalationThreshold int `yaml:"escalation_threshold" json:"escalation_threshold"`

	// RetentionDays bounds how long an inactive flag counts toward
	// escalation; the reaper deactivates flags not seen within it.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	SensitivePaths []string `yaml:"sensitive_paths" json:"sensitive_paths"`
	AdminPaths     []string `yaml:"admin_paths" json:"admin_paths"`
	LoginPath      string   `yaml:"login_path" json:"login_path"`
}

// Retention returns the flag retention horizon as a duration.
func (c DetectionConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

type SecurityConfig struct {
	EnableAuth bool   `yaml:"enable_auth" json:"enable_auth"`
	AdminToken string `yaml:"admin_token" json:"admin_token"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"`
	FilePath   string `yaml:"file_path" json:"file_path"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Exporter   string  `yaml:"exporter" json:"exporter"` // "otlp" or "stdout"
	Endpoint   string  `yaml:"endpoint" json:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults:
// the documented rate limits (10/min authenticated, 5/min anonymous over a
// 60s window, fail-open), the documented detection thresholds
// (100/5/10/3/200 over a trailing hour), escalation at 3 distinct reasons,
// and a 7-day flag retention.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeSQLite,
			Database: DatabaseConfig{
				DSN:             "./data/ipguard.db",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			WindowSeconds:      60,
			AuthenticatedLimit: 10,
			AnonymousLimit:     5,
			ExemptPaths: []string{
				"/health",
				"/static/",
				"/media/",
			},
			StoreTimeout:  500 * time.Millisecond,
			FailurePolicy: FailurePolicyOpen,
			Counter: CounterConfig{
				Type: CounterTypeMemory,
				Redis: RedisConfig{
					Addr: "localhost:6379",
				},
			},
		},
		Detection: DetectionConfig{
			Window:           time.Hour,
			ScanInterval:     time.Hour,
			EscalateInterval: 24 * time.Hour,
			ReapInterval:     24 * time.Hour,
			QueryTimeout:     30 * time.Second,

			HighVolumeThreshold:    100,
			SensitivePathThreshold: 5,
			FailedLoginThreshold:   10,
			AdminAccessThreshold:   3,
			BruteForceThreshold:    200,
			EscalationThreshold:    3,
			RetentionDays:          7,

			SensitivePaths: []string{
				"/admin/",
				"/api/login",
				"/api/dashboard",
				"/api/profile",
			},
			AdminPaths: []string{"/admin/"},
			LoginPath:  "/api/login",
		},
		Security: SecurityConfig{
			EnableAuth: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "ipguard",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

// Validate checks the complete configuration and returns the first problem
// found. The service refuses to start on any validation error.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if err := c.Detection.Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

func (c ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("read and write timeouts must be positive")
	}
	if c.TLSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return errors.New("tls_cert_file and tls_key_file are required when TLS is enabled")
	}
	return nil
}

func (c StorageConfig) Validate() error {
	switch c.Type {
	case StorageTypeMemory:
	case StorageTypePostgres, StorageTypeSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", c.Type)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Type)
	}
	return nil
}

func (c RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %d", c.WindowSeconds)
	}
	if c.AuthenticatedLimit <= 0 || c.AnonymousLimit <= 0 {
		return errors.New("authenticated_limit and anonymous_limit must be positive")
	}
	if c.AnonymousLimit > c.AuthenticatedLimit {
		return fmt.Errorf("anonymous_limit (%d) must not exceed authenticated_limit (%d)",
			c.AnonymousLimit, c.AuthenticatedLimit)
	}
	if c.StoreTimeout <= 0 {
		return errors.New("store_timeout must be positive")
	}
	switch c.FailurePolicy {
	case FailurePolicyOpen, FailurePolicyClosed:
	default:
		return fmt.Errorf("failure_policy must be %q or %q, got %q",
			FailurePolicyOpen, FailurePolicyClosed, c.FailurePolicy)
	}
	switch c.Counter.Type {
	case CounterTypeMemory:
	case CounterTypeRedis:
		if c.Counter.Redis.Addr == "" {
			return errors.New("redis addr is required for the redis counter store")
		}
	default:
		return fmt.Errorf("unsupported counter store type: %s", c.Counter.Type)
	}
	return nil
}

func (c DetectionConfig) Validate() error {
	if c.Window <= 0 {
		return errors.New("window must be positive")
	}
	if c.ScanInterval <= 0 || c.EscalateInterval <= 0 || c.ReapInterval <= 0 {
		return errors.New("scan, escalate, and reap intervals must be positive")
	}
	if c.QueryTimeout <= 0 {
		return errors.New("query_timeout must be positive")
	}
	for name, v := range map[string]int64{
		"high_volume_threshold":    c.HighVolumeThreshold,
		"sensitive_path_threshold": c.SensitivePathThreshold,
		"failed_login_threshold":   c.FailedLoginThreshold,
		"admin_access_threshold":   c.AdminAccessThreshold,
		"brute_force_threshold":    c.BruteForceThreshold,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.EscalationThreshold < 1 {
		return fmt.Errorf("escalation_threshold must be at least 1, got %d", c.EscalationThreshold)
	}
	if c.EscalationThreshold > len(Reasons()) {
		return fmt.Errorf("escalation_threshold %d exceeds the number of detection reasons (%d)",
			c.EscalationThreshold, len(Reasons()))
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	}
	if c.LoginPath == "" {
		return errors.New("login_path is required")
	}
	return nil
}

func (c SecurityConfig) Validate() error {
	if c.EnableAuth && strings.TrimSpace(c.AdminToken) == "" {
		return errors.New("admin_token is required when auth is enabled")
	}
	return nil
}

func (c LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Format)
	}
	if strings.ToLower(c.Output) == "file" && c.FilePath == "" {
		return errors.New("file_path is required when output is file")
	}
	return nil
}

func (c MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Path == "" {
		return errors.New("metrics path is required")
	}
	return nil
}
