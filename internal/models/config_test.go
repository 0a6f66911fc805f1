package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
	assert.Equal(t, 10, cfg.RateLimit.AuthenticatedLimit)
	assert.Equal(t, 5, cfg.RateLimit.AnonymousLimit)
	assert.Equal(t, FailurePolicyOpen, cfg.RateLimit.FailurePolicy)
	assert.Equal(t, int64(100), cfg.Detection.HighVolumeThreshold)
	assert.Equal(t, int64(200), cfg.Detection.BruteForceThreshold)
	assert.Equal(t, 3, cfg.Detection.EscalationThreshold)
	assert.Equal(t, 7, cfg.Detection.RetentionDays)
	assert.Equal(t, time.Hour, cfg.Detection.Window)
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RateLimitConfig)
		wantErr bool
	}{
		{"defaults are valid", func(c *RateLimitConfig) {}, false},
		{"disabled skips validation", func(c *RateLimitConfig) {
			c.Enabled = false
			c.WindowSeconds = -1
		}, false},
		{"zero window", func(c *RateLimitConfig) { c.WindowSeconds = 0 }, true},
		{"zero anonymous limit", func(c *RateLimitConfig) { c.AnonymousLimit = 0 }, true},
		{"negative authenticated limit", func(c *RateLimitConfig) { c.AuthenticatedLimit = -5 }, true},
		{"anonymous limit above authenticated", func(c *RateLimitConfig) {
			c.AnonymousLimit = 20
			c.AuthenticatedLimit = 10
		}, true},
		{"equal limits are valid", func(c *RateLimitConfig) {
			c.AnonymousLimit = 10
			c.AuthenticatedLimit = 10
		}, false},
		{"bad failure policy", func(c *RateLimitConfig) { c.FailurePolicy = "maybe" }, true},
		{"zero store timeout", func(c *RateLimitConfig) { c.StoreTimeout = 0 }, true},
		{"redis counter without addr", func(c *RateLimitConfig) {
			c.Counter.Type = CounterTypeRedis
			c.Counter.Redis.Addr = ""
		}, true},
		{"unknown counter type", func(c *RateLimitConfig) { c.Counter.Type = "etcd" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig().RateLimit
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDetectionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DetectionConfig)
		wantErr bool
	}{
		{"defaults are valid", func(c *DetectionConfig) {}, false},
		{"zero window", func(c *DetectionConfig) { c.Window = 0 }, true},
		{"zero high volume threshold", func(c *DetectionConfig) { c.HighVolumeThreshold = 0 }, true},
		{"negative brute force threshold", func(c *DetectionConfig) { c.BruteForceThreshold = -1 }, true},
		{"zero escalation threshold", func(c *DetectionConfig) { c.EscalationThreshold = 0 }, true},
		{"escalation above reason count", func(c *DetectionConfig) { c.EscalationThreshold = 6 }, true},
		{"zero retention", func(c *DetectionConfig) { c.RetentionDays = 0 }, true},
		{"empty login path", func(c *DetectionConfig) { c.LoginPath = "" }, true},
		{"zero scan interval", func(c *DetectionConfig) { c.ScanInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig().Detection
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStorageConfig_Validate(t *testing.T) {
	cfg := StorageConfig{Type: StorageTypeMemory}
	assert.NoError(t, cfg.Validate())

	cfg = StorageConfig{Type: StorageTypePostgres}
	assert.Error(t, cfg.Validate(), "postgres requires a DSN")

	cfg = StorageConfig{Type: StorageTypePostgres, Database: DatabaseConfig{DSN: "postgres://localhost/ipguard"}}
	assert.NoError(t, cfg.Validate())

	cfg = StorageConfig{Type: "cassandra"}
	assert.Error(t, cfg.Validate())
}

func TestSecurityConfig_Validate(t *testing.T) {
	assert.NoError(t, SecurityConfig{}.Validate())
	assert.Error(t, SecurityConfig{EnableAuth: true}.Validate())
	assert.Error(t, SecurityConfig{EnableAuth: true, AdminToken: "   "}.Validate())
	assert.NoError(t, SecurityConfig{EnableAuth: true, AdminToken: "secret"}.Validate())
}

func TestConfig_Validate_PropagatesSection(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Logging.Level = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging")
}

func TestDetectionConfig_Retention(t *testing.T) {
	cfg := DetectionConfig{RetentionDays: 7}
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
}
