package detection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipguard/internal/models"
	"ipguard/internal/storage"
)

func newTestStorage(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{Type: models.StorageTypeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestDetector(t *testing.T, store *storage.MemoryStorage) *Detector {
	t.Helper()
	detector, err := NewDetector(store, store, store, models.NewDefaultConfig().Detection)
	require.NoError(t, err)
	return detector
}

// logRequests records n requests from ip against path inside the scan window.
func logRequests(t *testing.T, store *storage.MemoryStorage, ip, path string, status, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.SaveRequest(context.Background(), &models.RequestLog{
			IPAddress:  ip,
			Method:     "GET",
			Path:       path,
			StatusCode: status,
			Timestamp:  at,
		})
		require.NoError(t, err)
	}
}

func logFailedLogins(t *testing.T, store *storage.MemoryStorage, ip string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.SaveRequest(context.Background(), &models.RequestLog{
			IPAddress:   ip,
			Method:      "POST",
			Path:        "/api/login",
			StatusCode:  401,
			FailedLogin: true,
			Timestamp:   at,
		})
		require.NoError(t, err)
	}
}

func activeReasons(t *testing.T, store *storage.MemoryStorage, ip string) []models.Reason {
	t.Helper()
	flags, err := store.ListFlags(context.Background(), true)
	require.NoError(t, err)
	var reasons []models.Reason
	for _, f := range flags {
		if f.IPAddress == ip {
			reasons = append(reasons, f.Reason)
		}
	}
	return reasons
}

func TestDetectorFlagsHighVolume(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	logRequests(t, store, "198.51.100.7", "/api/items", 200, 101, now.Add(-10*time.Minute))
	logRequests(t, store, "198.51.100.8", "/api/items", 200, 100, now.Add(-10*time.Minute))

	findings, err := newTestDetector(t, store).Scan(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, findings, 1)
	assert.Equal(t, "198.51.100.7", findings[0].IPAddress)
	assert.Equal(t, models.ReasonHighVolume, findings[0].Reason)
	assert.Equal(t, int64(101), findings[0].Count)

	// Exactly at the threshold is not over it.
	assert.Empty(t, activeReasons(t, store, "198.51.100.8"))

	flag, err := store.GetActiveFlag(context.Background(), "198.51.100.7", models.ReasonHighVolume)
	require.NoError(t, err)
	assert.Contains(t, flag.Details, "101 requests")
	assert.True(t, flag.IsActive)
}

func TestDetectorIgnoresActivityOutsideWindow(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	logRequests(t, store, "198.51.100.7", "/api/items", 200, 150, now.Add(-2*time.Hour))

	findings, err := newTestDetector(t, store).Scan(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDetectorFlagsSensitivePaths(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	// Mixed sensitive prefixes accumulate into one count.
	logRequests(t, store, "203.0.113.5", "/wp-admin/setup.php", 404, 3, now.Add(-30*time.Minute))
	logRequests(t, store, "203.0.113.5", "/.env", 404, 3, now.Add(-20*time.Minute))

	findings, err := newTestDetector(t, store).Scan(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, findings, 1)
	assert.Equal(t, models.ReasonSensitivePaths, findings[0].Reason)
	assert.Equal(t, int64(6), findings[0].Count)
}

func TestDetectorFlagsFailedLoginsAndAdminAccess(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	logFailedLogins(t, store, "203.0.113.5", 11, now.Add(-15*time.Minute))
	logRequests(t, store, "203.0.113.5", "/admin/users", 403, 4, now.Add(-5*time.Minute))

	_, err := newTestDetector(t, store).Scan(context.Background(), now)
	require.NoError(t, err)

	reasons := activeReasons(t, store, "203.0.113.5")
	assert.ElementsMatch(t,
		[]models.Reason{models.ReasonFailedLogins, models.ReasonAdminAccess},
		reasons)
}

func TestDetectorBruteForceAndHighVolumeAreIndependent(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	logRequests(t, store, "198.51.100.7", "/api/items", 200, 201, now.Add(-10*time.Minute))

	_, err := newTestDetector(t, store).Scan(context.Background(), now)
	require.NoError(t, err)

	reasons := activeReasons(t, store, "198.51.100.7")
	assert.ElementsMatch(t,
		[]models.Reason{models.ReasonHighVolume, models.ReasonBruteForce},
		reasons)
}

func TestDetectorScanIsIdempotent(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	logRequests(t, store, "198.51.100.7", "/api/items", 200, 120, now.Add(-10*time.Minute))

	detector := newTestDetector(t, store)
	_, err := detector.Scan(context.Background(), now)
	require.NoError(t, err)

	first, err := store.GetActiveFlag(context.Background(), "198.51.100.7", models.ReasonHighVolume)
	require.NoError(t, err)

	// A second scan over the same data refreshes the flag in place.
	later := now.Add(5 * time.Minute)
	_, err = detector.Scan(context.Background(), later)
	require.NoError(t, err)

	second, err := store.GetActiveFlag(context.Background(), "198.51.100.7", models.ReasonHighVolume)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.True(t, second.LastSeen.After(first.FirstSeen))

	flags, err := store.ListFlags(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, flags, 1)
}

func TestDetectorSkipsBlockedIPs(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	logRequests(t, store, "198.51.100.7", "/api/items", 200, 150, now.Add(-10*time.Minute))
	require.NoError(t, store.BlockIP(context.Background(),
		models.NewBlockedIP("198.51.100.7", "manual block", now)))

	findings, err := newTestDetector(t, store).Scan(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

// flakyLog fails one classifier's query while the others keep working.
type flakyLog struct {
	*storage.MemoryStorage
}

func (f flakyLog) CountFailedLogins(ctx context.Context, ip string, since time.Time) (int64, error) {
	return 0, errors.New("aggregation table unavailable")
}

func TestDetectorSurvivesClassifierFailure(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	logRequests(t, store, "198.51.100.7", "/api/items", 200, 150, now.Add(-10*time.Minute))
	logFailedLogins(t, store, "198.51.100.7", 15, now.Add(-10*time.Minute))

	detector, err := NewDetector(flakyLog{store}, store, store, models.NewDefaultConfig().Detection)
	require.NoError(t, err)

	findings, err := detector.Scan(context.Background(), now)
	require.NoError(t, err)

	// failed_logins could not be evaluated; high_volume still was. The
	// failed-login rows also count toward the request total.
	var reasons []models.Reason
	for _, f := range findings {
		reasons = append(reasons, f.Reason)
	}
	assert.Contains(t, reasons, models.ReasonHighVolume)
	assert.NotContains(t, reasons, models.ReasonFailedLogins)
}

type failingLog struct {
	*storage.MemoryStorage
}

func (f failingLog) DistinctIPs(ctx context.Context, since time.Time) ([]string, error) {
	return nil, errors.New("request_logs unavailable")
}

func TestDetectorScanFailsWhenIPEnumerationFails(t *testing.T) {
	store := newTestStorage(t)
	detector, err := NewDetector(failingLog{store}, store, store, models.NewDefaultConfig().Detection)
	require.NoError(t, err)

	_, err = detector.Scan(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestNewDetectorValidation(t *testing.T) {
	store := newTestStorage(t)

	_, err := NewDetector(nil, store, store, models.NewDefaultConfig().Detection)
	assert.Error(t, err)

	bad := models.NewDefaultConfig().Detection
	bad.HighVolumeThreshold = -1
	_, err = NewDetector(store, store, store, bad)
	assert.Error(t, err)
}

func TestDetectorMultipleIPs(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i+1)
		logRequests(t, store, ip, "/api/items", 200, 110, now.Add(-10*time.Minute))
	}

	findings, err := newTestDetector(t, store).Scan(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, findings, 5)
}
