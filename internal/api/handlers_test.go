package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipguard/internal/models"
	"ipguard/internal/storage"
	"ipguard/internal/version"
)

type stubScanner struct {
	findings []models.Finding
	err      error
}

func (s *stubScanner) Scan(ctx context.Context, now time.Time) ([]models.Finding, error) {
	return s.findings, s.err
}

func newTestStorage(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{Type: models.StorageTypeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestRouter(t *testing.T, store storage.Storage, scanner Scanner) http.Handler {
	t.Helper()
	handlers := NewHandlers(store, scanner, models.SecurityConfig{}, version.GetInfo())
	return SetupRoutes(handlers, models.NewDefaultConfig())
}

func TestHealthCheck(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, store, &stubScanner{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.StatusHealthy, resp.Status)
	assert.Equal(t, models.StatusHealthy, resp.Components["storage"].Status)
}

type unhealthyStorage struct {
	*storage.MemoryStorage
}

func (u unhealthyStorage) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestHealthCheckUnhealthyStorage(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, unhealthyStorage{store}, &stubScanner{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.StatusUnhealthy, resp.Status)
}

func TestListFlags(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	active := models.NewSuspicionFlag("203.0.113.5", models.ReasonHighVolume, "details", 150, now)
	require.NoError(t, store.SaveFlag(context.Background(), active))
	inactive := models.NewSuspicionFlag("198.51.100.7", models.ReasonFailedLogins, "details", 15, now)
	inactive.IsActive = false
	require.NoError(t, store.SaveFlag(context.Background(), inactive))

	router := newTestRouter(t, store, &stubScanner{})

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all flags", "", 2},
		{"active only", "?active=true", 1},
		{"active false means all", "?active=false", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/flags"+tt.query, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp models.ListFlagsResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.want, resp.TotalCount)
		})
	}
}

func TestListFlagsInvalidActiveParam(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, store, &stubScanner{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/flags?active=banana", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockAndListAndUnblock(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, store, &stubScanner{})

	body := strings.NewReader(`{"ip_address": "203.0.113.5", "reason": "manual investigation"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/blocked", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	var entry models.BlockedIP
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entry))
	assert.Equal(t, "203.0.113.5", entry.IPAddress)
	assert.Equal(t, "manual investigation", entry.Reason)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/blocked", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp models.ListBlockedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listResp))
	assert.Equal(t, 1, listResp.TotalCount)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/blocked/203.0.113.5", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	blocked, err := store.IsBlocked(context.Background(), "203.0.113.5")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlockIPDefaultsReason(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, store, &stubScanner{})

	body := strings.NewReader(`{"ip_address": "203.0.113.5"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/blocked", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	var entry models.BlockedIP
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entry))
	assert.Equal(t, "Blocked by administrator", entry.Reason)
}

func TestBlockIPValidation(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, store, &stubScanner{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid JSON", `{`, http.StatusBadRequest},
		{"missing IP", `{}`, http.StatusBadRequest},
		{"malformed IP", `{"ip_address": "not-an-ip"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/blocked", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestBlockIPConflict(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.BlockIP(context.Background(),
		models.NewBlockedIP("203.0.113.5", "existing", time.Now())))
	router := newTestRouter(t, store, &stubScanner{})

	body := strings.NewReader(`{"ip_address": "203.0.113.5"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/blocked", body))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnblockIPNotFound(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, store, &stubScanner{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/blocked/203.0.113.5", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerScan(t *testing.T) {
	store := newTestStorage(t)
	scanner := &stubScanner{findings: []models.Finding{
		{IPAddress: "203.0.113.5", Reason: models.ReasonHighVolume, Count: 150},
		{IPAddress: "203.0.113.5", Reason: models.ReasonFailedLogins, Count: 12},
		{IPAddress: "198.51.100.7", Reason: models.ReasonHighVolume, Count: 130},
	}}
	router := newTestRouter(t, store, scanner)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scan", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ScanResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Findings, 3)
	assert.Equal(t, 2, resp.ByReason[models.ReasonHighVolume])
	assert.Equal(t, 1, resp.ByReason[models.ReasonFailedLogins])
}

func TestTriggerScanFailure(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, store, &stubScanner{err: errors.New("storage unavailable")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scan", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLogin(t *testing.T) {
	store := newTestStorage(t)
	cfg := models.NewDefaultConfig()
	cfg.Security.EnableAuth = true
	cfg.Security.AdminToken = "secret-token"
	handlers := NewHandlers(store, &stubScanner{}, cfg.Security, version.GetInfo())
	router := SetupRoutes(handlers, cfg)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid credentials", `{"username":"admin","password":"secret-token"}`, http.StatusOK},
		{"wrong password", `{"username":"admin","password":"guess"}`, http.StatusUnauthorized},
		{"missing password", `{"username":"admin"}`, http.StatusBadRequest},
		{"missing username", `{"password":"secret-token"}`, http.StatusBadRequest},
		{"invalid json", `{username`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, cfg.Detection.LoginPath, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)

			if tt.want == http.StatusOK {
				var resp models.LoginResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, "admin", resp.Username)
			}
		})
	}
}

func TestLoginRejectsAllWhenAuthDisabled(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, store, &stubScanner{})

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"admin","password":"anything"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	store := newTestStorage(t)
	router := newTestRouter(t, store, &stubScanner{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/flags", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
