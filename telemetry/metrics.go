// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsNormalized   prometheus.Counter
	GiftTicksDiscarded prometheus.Counter
	Broadcasts         prometheus.Counter
	DeliveryFailures   prometheus.Counter
	UpstreamReconnects prometheus.Counter
	UpstreamErrors     prometheus.Counter

	// Gauges
	OpenChannelsGauge  prometheus.Gauge
	UpstreamLiveGauge  prometheus.Gauge // 1=live,0=not
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsNormalized = promauto.NewCounter(prometheus.CounterOpts{Name: "livebridge_events_normalized_total", Help: "Number of upstream events normalized and forwarded"})
		GiftTicksDiscarded = promauto.NewCounter(prometheus.CounterOpts{Name: "livebridge_gift_ticks_discarded_total", Help: "Number of in-progress gift repeat ticks discarded"})
		Broadcasts = promauto.NewCounter(prometheus.CounterOpts{Name: "livebridge_broadcasts_total", Help: "Number of fan-out broadcasts performed"})
		DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "livebridge_delivery_failures_total", Help: "Number of per-channel send failures during fan-out"})
		UpstreamReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "livebridge_upstream_reconnects_total", Help: "Number of upstream reconnect attempts scheduled"})
		UpstreamErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "livebridge_upstream_errors_total", Help: "Number of error events received from the upstream platform"})
		OpenChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livebridge_open_channels", Help: "Current number of open downstream channels"})
		UpstreamLiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livebridge_upstream_live", Help: "Upstream session live=1 not=0"})
	})
}

// UpdateLiveGauge sets gauge to 1 if live else 0.
func UpdateLiveGauge(live bool) {
	if UpstreamLiveGauge != nil {
		if live {
			UpstreamLiveGauge.Set(1)
		} else {
			UpstreamLiveGauge.Set(0)
		}
	}
}

// SetOpenChannels records the current downstream channel count.
func SetOpenChannels(n int) {
	if OpenChannelsGauge != nil {
		OpenChannelsGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
