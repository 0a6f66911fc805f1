// Package models - API response types and error handling.
package models

import "time"

// ErrorResponse is the standard error body returned by every endpoint.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthCheckResponse reports service and component health.
type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth is the health of a single dependency (storage, counter).
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ListFlagsResponse wraps a suspicion flag listing.
type ListFlagsResponse struct {
	Flags      []*SuspicionFlag `json:"flags"`
	TotalCount int              `json:"total_count"`
}

// ListBlockedResponse wraps a blocklist listing.
type ListBlockedResponse struct {
	Blocked    []*BlockedIP `json:"blocked"`
	TotalCount int          `json:"total_count"`
}

// LoginRequest is the body for the login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful authentication.
type LoginResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// BlockRequest is the body for manually blocking an IP.
type BlockRequest struct {
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason,omitempty"`
}

// ScanResponse summarizes one on-demand detection scan.
type ScanResponse struct {
	ScannedAt time.Time      `json:"scanned_at"`
	Findings  []Finding      `json:"findings"`
	ByReason  map[Reason]int `json:"by_reason,omitempty"`
}

// Finding is one classifier hit reported by a scan.
type Finding struct {
	IPAddress string `json:"ip_address"`
	Reason    Reason `json:"reason"`
	Count     int64  `json:"count"`
}

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Machine-readable error codes returned in ErrorResponse.Code.
const (
	ErrorCodeNotFound           = "NOT_FOUND"
	ErrorCodeBadRequest         = "BAD_REQUEST"
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"
	ErrorCodeInternalError      = "INTERNAL_ERROR"
	ErrorCodeUnauthorized       = "UNAUTHORIZED"
	ErrorCodeForbidden          = "FORBIDDEN"
	ErrorCodeConflict           = "CONFLICT"
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrorCodeIPBlocked          = "IP_BLOCKED"
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// NewErrorResponse builds a standard error body.
func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}
