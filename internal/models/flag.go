// Package models defines the persisted and wire-level types for the ipguard
// service: suspicion flags, blocklist entries, request log records, API
// responses, and service configuration.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reason identifies which detection rule flagged an IP. The set is closed;
// storage backends and the API reject values outside of it.
type Reason string

const (
	ReasonHighVolume     Reason = "high_volume"
	ReasonSensitivePaths Reason = "sensitive_paths"
	ReasonFailedLogins   Reason = "failed_logins"
	ReasonAdminAccess    Reason = "admin_access"
	ReasonBruteForce     Reason = "brute_force"
)

// Reasons lists every valid detection reason.
func Reasons() []Reason {
	return []Reason{
		ReasonHighVolume,
		ReasonSensitivePaths,
		ReasonFailedLogins,
		ReasonAdminAccess,
		ReasonBruteForce,
	}
}

// Valid reports whether r is a member of the closed reason set.
func (r Reason) Valid() bool {
	switch r {
	case ReasonHighVolume, ReasonSensitivePaths, ReasonFailedLogins,
		ReasonAdminAccess, ReasonBruteForce:
		return true
	}
	return false
}

// Description returns the human-readable form used in blocklist summaries.
func (r Reason) Description() string {
	switch r {
	case ReasonHighVolume:
		return "High Volume Requests"
	case ReasonSensitivePaths:
		return "Sensitive Path Access"
	case ReasonFailedLogins:
		return "Failed Login Attempts"
	case ReasonAdminAccess:
		return "Admin Panel Access"
	case ReasonBruteForce:
		return "Brute Force Pattern"
	}
	return string(r)
}

// SuspicionFlag records that an IP met one detection rule's threshold.
// At most one active flag exists per (ip_address, reason) pair; repeated
// detections update RequestCount and LastSeen on the existing row. Flags
// are deactivated by the reaper, never deleted.
type SuspicionFlag struct {
	ID           string    `json:"id"`
	IPAddress    string    `json:"ip_address"`
	Reason       Reason    `json:"reason"`
	Details      string    `json:"details"`
	RequestCount int64     `json:"request_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	IsActive     bool      `json:"is_active"`
}

// NewSuspicionFlag creates an active flag with FirstSeen = LastSeen = now.
func NewSuspicionFlag(ip string, reason Reason, details string, count int64, now time.Time) *SuspicionFlag {
	return &SuspicionFlag{
		ID:           uuid.New().String(),
		IPAddress:    ip,
		Reason:       reason,
		Details:      details,
		RequestCount: count,
		FirstSeen:    now,
		LastSeen:     now,
		IsActive:     true,
	}
}

// Touch records a re-detection of the same (ip, reason) pair: the measured
// count and details are replaced and LastSeen advances. FirstSeen is set
// once at creation and never changes.
func (f *SuspicionFlag) Touch(count int64, details string, now time.Time) {
	f.RequestCount = count
	f.Details = details
	f.LastSeen = now
	f.IsActive = true
}

// Validate checks the flag's fields before persisting.
func (f *SuspicionFlag) Validate() error {
	if f.IPAddress == "" {
		return fmt.Errorf("ip_address is required")
	}
	if !f.Reason.Valid() {
		return fmt.Errorf("invalid reason: %s", f.Reason)
	}
	if f.RequestCount < 0 {
		return fmt.Errorf("request_count must not be negative")
	}
	return nil
}
