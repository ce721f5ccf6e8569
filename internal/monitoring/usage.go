package monitoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/hengadev/credhub"
)

// UsageSource reports key usage. Implemented by *credhub.KeyUsageService.
type UsageSource interface {
	Snapshot(ctx context.Context) (credhub.KeyUsage, error)
}

// UsageExporter periodically publishes key usage as gauges.
type UsageExporter struct {
	source   UsageSource
	metrics  credhub.MetricsCollector
	logger   *slog.Logger
	interval time.Duration
}

func NewUsageExporter(source UsageSource, metrics credhub.MetricsCollector, logger *slog.Logger, interval time.Duration) *UsageExporter {
	if interval <= 0 {
		interval = credhub.DefaultUsageInterval
	}
	return &UsageExporter{source: source, metrics: metrics, logger: logger, interval: interval}
}

// Export publishes one snapshot.
func (e *UsageExporter) Export(ctx context.Context) (credhub.KeyUsage, error) {
	usage, err := e.source.Snapshot(ctx)
	if err != nil {
		return credhub.KeyUsage{}, err
	}
	e.metrics.SetGauge(credhub.MetricKeyUsage, float64(usage.ActiveKey), map[string]string{"bucket": "active"})
	e.metrics.SetGauge(credhub.MetricKeyUsage, float64(usage.InactiveKeys), map[string]string{"bucket": "inactive"})
	e.metrics.SetGauge(credhub.MetricKeyUsage, float64(usage.UnknownKeys), map[string]string{"bucket": "unknown"})
	e.metrics.SetGauge(credhub.MetricPendingReencrypt, float64(usage.PendingReencryption), nil)
	return usage, nil
}

// Run exports immediately and then on every tick until ctx is done.
func (e *UsageExporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if usage, err := e.Export(ctx); err != nil {
			e.logger.Error("key usage export failed", slog.String("error", err.Error()))
		} else if usage.UnknownKeys > 0 {
			e.logger.Warn("versions reference keys missing from the directory",
				slog.Int64("unknown_keys", usage.UnknownKeys))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
