// Package telemetry provides Prometheus metrics and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LivePolls          prometheus.Counter
	LivePollErrors     prometheus.Counter
	LiveTransitions    *prometheus.CounterVec
	TokenRefreshes     *prometheus.CounterVec
	TokenRefreshErrors *prometheus.CounterVec
	ResponderHits      prometheus.Counter
	ResponderCooldowns prometheus.Counter
	StrimsScheduled    prometheus.Counter
	CommandsHandled    *prometheus.CounterVec

	// Histograms (seconds)
	APIRequestDuration prometheus.Observer

	// Gauges
	LiveGauge      prometheus.Gauge // 1=live,0=down
	RemembersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LivePolls = promauto.NewCounter(prometheus.CounterOpts{Name: "strimbot_live_polls_total", Help: "Number of live status polls"})
		LivePollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "strimbot_live_poll_errors_total", Help: "Number of live status polls that failed"})
		LiveTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "strimbot_live_transitions_total", Help: "Number of live state transitions"}, []string{"direction"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "strimbot_token_refreshes_total", Help: "Number of OAuth token refreshes"}, []string{"provider"})
		TokenRefreshErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "strimbot_token_refresh_errors_total", Help: "Number of failed OAuth token refreshes"}, []string{"provider"})
		ResponderHits = promauto.NewCounter(prometheus.CounterOpts{Name: "strimbot_responder_hits_total", Help: "Number of auto-responses emitted"})
		ResponderCooldowns = promauto.NewCounter(prometheus.CounterOpts{Name: "strimbot_responder_cooldowns_total", Help: "Number of auto-responses suppressed by cooldown"})
		StrimsScheduled = promauto.NewCounter(prometheus.CounterOpts{Name: "strimbot_strims_scheduled_total", Help: "Number of strims created by the auto-scheduler"})
		CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "strimbot_commands_handled_total", Help: "Number of chat commands handled"}, []string{"command"})
		APIRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "strimbot_api_request_duration_seconds", Help: "Outbound API request duration seconds", Buckets: prometheus.DefBuckets})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "strimbot_live", Help: "Stream live=1 down=0"})
		RemembersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "strimbot_remembers", Help: "Current number of remembered triggers"})
	})
}

// UpdateLiveGauge sets gauge to 1 if live else 0.
func UpdateLiveGauge(live bool) {
	if LiveGauge != nil {
		if live {
			LiveGauge.Set(1)
		} else {
			LiveGauge.Set(0)
		}
	}
}

// SetRememberCount records the current trigger count.
func SetRememberCount(n int) {
	if RemembersGauge != nil {
		RemembersGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
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
