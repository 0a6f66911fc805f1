// Package api exposes the engine's HTTP surface: a liveness endpoint and
// the admin endpoints for inspecting flags, managing the blocklist, and
// triggering on-demand scans.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"ipguard/internal/models"
	"ipguard/internal/ratelimit"
	"ipguard/internal/storage"
	"ipguard/internal/version"
)

// Scanner runs one on-demand detection scan.
type Scanner interface {
	Scan(ctx context.Context, now time.Time) ([]models.Finding, error)
}

// Handlers contains the HTTP handlers for the engine API.
type Handlers struct {
	storage  storage.Storage
	scanner  Scanner
	security models.SecurityConfig
	ver      version.Info
}

// NewHandlers creates a new handlers instance.
func NewHandlers(store storage.Storage, scanner Scanner, sec models.SecurityConfig, ver version.Info) *Handlers {
	return &Handlers{
		storage:  store,
		scanner:  scanner,
		security: sec,
		ver:      ver,
	}
}

// HealthCheck handles health check requests.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := &models.HealthCheckResponse{
		Status:     models.StatusHealthy,
		Timestamp:  time.Now().UTC(),
		Version:    h.ver.Version,
		Components: make(map[string]models.ComponentHealth),
	}

	status := http.StatusOK
	if err := h.storage.Ping(r.Context()); err != nil {
		response.Status = models.StatusUnhealthy
		response.Components["storage"] = models.ComponentHealth{
			Status:  models.StatusUnhealthy,
			Message: err.Error(),
		}
		status = http.StatusServiceUnavailable
	} else {
		response.Components["storage"] = models.ComponentHealth{
			Status:  models.StatusHealthy,
			Message: "Storage is operational",
		}
	}

	h.writeJSONResponse(w, status, response)
}

// Login authenticates an administrator against the configured admin token.
// Bad credentials answer 401, which the request recorder stores as a
// failed login for the detector to count. With auth disabled there is no
// credential to match, so every attempt is rejected.
// POST {login_path}
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest,
			"Username and password are required")
		return
	}

	authenticated := h.security.EnableAuth &&
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.security.AdminToken)) == 1
	if !authenticated {
		slog.Warn("failed login attempt", "username", req.Username, "ip", ratelimit.ClientIP(r))
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized,
			"Invalid credentials")
		return
	}

	slog.Info("successful login", "username", req.Username, "ip", ratelimit.ClientIP(r))
	h.writeJSONResponse(w, http.StatusOK, &models.LoginResponse{
		Message:  "Login successful",
		Username: req.Username,
	})
}

// ListFlags handles suspicion flag listing.
// GET /api/v1/flags?active=true|false
func (h *Handlers) ListFlags(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if activeParam := r.URL.Query().Get("active"); activeParam != "" {
		active, err := strconv.ParseBool(activeParam)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest,
				"Invalid 'active' parameter, expected true or false")
			return
		}
		activeOnly = active
	}

	flags, err := h.storage.ListFlags(r.Context(), activeOnly)
	if err != nil {
		slog.Error("flag listing failed", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError,
			"Failed to list suspicion flags")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, &models.ListFlagsResponse{
		Flags:      flags,
		TotalCount: len(flags),
	})
}

// ListBlocked handles blocklist listing.
// GET /api/v1/blocked
func (h *Handlers) ListBlocked(w http.ResponseWriter, r *http.Request) {
	entries, err := h.storage.ListBlockedIPs(r.Context())
	if err != nil {
		slog.Error("blocklist listing failed", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError,
			"Failed to list blocked IPs")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, &models.ListBlockedResponse{
		Blocked:    entries,
		TotalCount: len(entries),
	})
}

// BlockIP handles manual blocking.
// POST /api/v1/blocked
func (h *Handlers) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req models.BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	if err := models.ValidateIP(req.IPAddress); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "Blocked by administrator"
	}

	entry := models.NewBlockedIP(req.IPAddress, reason, time.Now().UTC())
	if err := h.storage.BlockIP(r.Context(), entry); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict,
				"IP address is already blocked")
			return
		}
		slog.Error("manual block failed", "ip", req.IPAddress, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError,
			"Failed to block IP")
		return
	}

	slog.Warn("IP manually blocked", "ip", entry.IPAddress, "reason", entry.Reason)
	h.writeJSONResponse(w, http.StatusCreated, entry)
}

// UnblockIP handles manual unblocking.
// DELETE /api/v1/blocked/{ip}
func (h *Handlers) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]

	if err := models.ValidateIP(ip); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	if err := h.storage.UnblockIP(r.Context(), ip); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound,
				"IP address is not blocked")
			return
		}
		slog.Error("manual unblock failed", "ip", ip, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError,
			"Failed to unblock IP")
		return
	}

	slog.Info("IP manually unblocked", "ip", ip)
	w.WriteHeader(http.StatusNoContent)
}

// TriggerScan handles on-demand detection scans.
// POST /api/v1/scan
func (h *Handlers) TriggerScan(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	findings, err := h.scanner.Scan(r.Context(), now)
	if err != nil {
		slog.Error("on-demand scan failed", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError,
			"Scan failed")
		return
	}

	byReason := make(map[models.Reason]int)
	for _, f := range findings {
		byReason[f.Reason]++
	}

	h.writeJSONResponse(w, http.StatusOK, &models.ScanResponse{
		ScannedAt: now,
		Findings:  findings,
		ByReason:  byReason,
	})
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing left to send the client.
		slog.Error("response encoding failed", "error", err)
	}
}

// writeErrorResponse writes an error response.
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
