package models

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// BlockedIP is a blocklist entry consulted by the blocking middleware.
// Entries are created by the escalator or by an administrator; nothing in
// the service removes them automatically. Unblocking is an explicit admin
// action via the API or CLI.
type BlockedIP struct {
	IPAddress string    `json:"ip_address"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBlockedIP creates a blocklist entry for the given IP.
func NewBlockedIP(ip, reason string, now time.Time) *BlockedIP {
	return &BlockedIP{
		IPAddress: ip,
		Reason:    reason,
		CreatedAt: now,
	}
}

// Validate checks the entry before persisting.
func (b *BlockedIP) Validate() error {
	if err := ValidateIP(b.IPAddress); err != nil {
		return err
	}
	return nil
}

// ValidateIP reports whether s is a valid textual IPv4 or IPv6 address.
func ValidateIP(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("ip_address is required")
	}
	if net.ParseIP(s) == nil {
		return fmt.Errorf("invalid ip address: %s", s)
	}
	return nil
}
