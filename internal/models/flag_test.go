package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSuspicionFlag(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	flag := NewSuspicionFlag("203.0.113.5", ReasonHighVolume, "150 requests in the last hour", 150, now)

	assert.NotEmpty(t, flag.ID)
	assert.Equal(t, "203.0.113.5", flag.IPAddress)
	assert.Equal(t, ReasonHighVolume, flag.Reason)
	assert.Equal(t, int64(150), flag.RequestCount)
	assert.Equal(t, now, flag.FirstSeen)
	assert.Equal(t, now, flag.LastSeen)
	assert.True(t, flag.IsActive)
}

func TestSuspicionFlag_Touch(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := created.Add(time.Hour)

	flag := NewSuspicionFlag("203.0.113.5", ReasonHighVolume, "150 requests", 150, created)
	flag.IsActive = false
	flag.Touch(180, "180 requests", later)

	assert.Equal(t, int64(180), flag.RequestCount)
	assert.Equal(t, "180 requests", flag.Details)
	assert.Equal(t, created, flag.FirstSeen, "FirstSeen must not change on re-detection")
	assert.Equal(t, later, flag.LastSeen)
	assert.True(t, flag.IsActive)
}

func TestSuspicionFlag_Validate(t *testing.T) {
	now := time.Now()

	valid := NewSuspicionFlag("198.51.100.1", ReasonBruteForce, "details", 250, now)
	require.NoError(t, valid.Validate())

	noIP := NewSuspicionFlag("", ReasonBruteForce, "details", 250, now)
	assert.Error(t, noIP.Validate())

	badReason := NewSuspicionFlag("198.51.100.1", Reason("port_scan"), "details", 1, now)
	assert.Error(t, badReason.Validate())

	negative := NewSuspicionFlag("198.51.100.1", ReasonHighVolume, "details", -1, now)
	assert.Error(t, negative.Validate())
}

func TestReason_Valid(t *testing.T) {
	for _, r := range Reasons() {
		assert.True(t, r.Valid(), "reason %s should be valid", r)
	}
	assert.False(t, Reason("").Valid())
	assert.False(t, Reason("geo_anomaly").Valid())
}

func TestBlockedIP_Validate(t *testing.T) {
	now := time.Now()

	require.NoError(t, NewBlockedIP("203.0.113.5", "manual", now).Validate())
	require.NoError(t, NewBlockedIP("2001:db8::1", "manual", now).Validate())

	assert.Error(t, NewBlockedIP("", "manual", now).Validate())
	assert.Error(t, NewBlockedIP("not-an-ip", "manual", now).Validate())
	assert.Error(t, NewBlockedIP("999.0.0.1", "manual", now).Validate())
}
