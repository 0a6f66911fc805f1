package models

import "time"

// RequestLog is one recorded HTTP request, written by the tracking
// middleware and aggregated by the anomaly detector. FailedLogin is
// resolved at capture time (login path plus an authentication-failure
// status) so detection queries stay plain counts.
type RequestLog struct {
	ID          int64     `json:"id"`
	IPAddress   string    `json:"ip_address"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	StatusCode  int       `json:"status_code"`
	FailedLogin bool      `json:"failed_login"`
	Timestamp   time.Time `json:"timestamp"`
}
