package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ipguard/internal/models"
	"ipguard/internal/storage"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a storage wrapper that records trace
// spans, operation latency histograms, and error counters for every
// storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("ipguard/storage")
	meter := otel.Meter("ipguard/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) SaveRequest(ctx context.Context, entry *models.RequestLog) error {
	ctx, span := s.startSpan(ctx, "SaveRequest", attribute.String("ip", entry.IPAddress))
	start := time.Now()
	err := s.inner.SaveRequest(ctx, entry)
	s.record(ctx, span, "SaveRequest", start, err)
	return err
}

func (s *InstrumentedStorage) DistinctIPs(ctx context.Context, since time.Time) ([]string, error) {
	ctx, span := s.startSpan(ctx, "DistinctIPs")
	start := time.Now()
	result, err := s.inner.DistinctIPs(ctx, since)
	s.record(ctx, span, "DistinctIPs", start, err)
	return result, err
}

func (s *InstrumentedStorage) CountRequests(ctx context.Context, ip string, since time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "CountRequests", attribute.String("ip", ip))
	start := time.Now()
	result, err := s.inner.CountRequests(ctx, ip, since)
	s.record(ctx, span, "CountRequests", start, err)
	return result, err
}

func (s *InstrumentedStorage) CountPathMatches(ctx context.Context, ip string, pathPrefixes []string, since time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "CountPathMatches",
		attribute.String("ip", ip),
		attribute.Int("prefixes", len(pathPrefixes)),
	)
	start := time.Now()
	result, err := s.inner.CountPathMatches(ctx, ip, pathPrefixes, since)
	s.record(ctx, span, "CountPathMatches", start, err)
	return result, err
}

func (s *InstrumentedStorage) CountFailedLogins(ctx context.Context, ip string, since time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "CountFailedLogins", attribute.String("ip", ip))
	start := time.Now()
	result, err := s.inner.CountFailedLogins(ctx, ip, since)
	s.record(ctx, span, "CountFailedLogins", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetActiveFlag(ctx context.Context, ip string, reason models.Reason) (*models.SuspicionFlag, error) {
	ctx, span := s.startSpan(ctx, "GetActiveFlag",
		attribute.String("ip", ip),
		attribute.String("reason", string(reason)),
	)
	start := time.Now()
	result, err := s.inner.GetActiveFlag(ctx, ip, reason)
	s.record(ctx, span, "GetActiveFlag", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveFlag(ctx context.Context, flag *models.SuspicionFlag) error {
	ctx, span := s.startSpan(ctx, "SaveFlag",
		attribute.String("ip", flag.IPAddress),
		attribute.String("reason", string(flag.Reason)),
	)
	start := time.Now()
	err := s.inner.SaveFlag(ctx, flag)
	s.record(ctx, span, "SaveFlag", start, err)
	return err
}

func (s *InstrumentedStorage) ListFlags(ctx context.Context, activeOnly bool) ([]*models.SuspicionFlag, error) {
	ctx, span := s.startSpan(ctx, "ListFlags", attribute.Bool("active_only", activeOnly))
	start := time.Now()
	result, err := s.inner.ListFlags(ctx, activeOnly)
	s.record(ctx, span, "ListFlags", start, err)
	return result, err
}

func (s *InstrumentedStorage) DeactivateFlagsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "DeactivateFlagsBefore")
	start := time.Now()
	result, err := s.inner.DeactivateFlagsBefore(ctx, cutoff)
	s.record(ctx, span, "DeactivateFlagsBefore", start, err)
	return result, err
}

func (s *InstrumentedStorage) IsBlocked(ctx context.Context, ip string) (bool, error) {
	ctx, span := s.startSpan(ctx, "IsBlocked", attribute.String("ip", ip))
	start := time.Now()
	result, err := s.inner.IsBlocked(ctx, ip)
	s.record(ctx, span, "IsBlocked", start, err)
	return result, err
}

func (s *InstrumentedStorage) BlockIP(ctx context.Context, entry *models.BlockedIP) error {
	ctx, span := s.startSpan(ctx, "BlockIP", attribute.String("ip", entry.IPAddress))
	start := time.Now()
	err := s.inner.BlockIP(ctx, entry)
	s.record(ctx, span, "BlockIP", start, err)
	return err
}

func (s *InstrumentedStorage) UnblockIP(ctx context.Context, ip string) error {
	ctx, span := s.startSpan(ctx, "UnblockIP", attribute.String("ip", ip))
	start := time.Now()
	err := s.inner.UnblockIP(ctx, ip)
	s.record(ctx, span, "UnblockIP", start, err)
	return err
}

func (s *InstrumentedStorage) ListBlockedIPs(ctx context.Context) ([]*models.BlockedIP, error) {
	ctx, span := s.startSpan(ctx, "ListBlockedIPs")
	start := time.Now()
	result, err := s.inner.ListBlockedIPs(ctx)
	s.record(ctx, span, "ListBlockedIPs", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
