// Package metrics exposes the miner's internal counters and gauges via
// prometheus/client_golang, following the observability package's
// package-level vector-plus-helper-function shape
// (internal/adapter/observability/metrics.go): no HTTP server is started
// (out of scope per spec.md §1), metrics are registered against a private
// registry and snapshotted directly for the CLI's --dump output.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	dmerrors "github.com/dropsminer/core/internal/errors"
)

var registry = prometheus.NewRegistry()

var (
	// WebsocketReconnects counts pool socket reconnects, labeled by the
	// reason the prior connection ended (spec.md §4.7).
	WebsocketReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropsminer_websocket_reconnects_total",
			Help: "Total websocket pool reconnects by reason",
		},
		[]string{"reason"},
	)

	// GQLRetries counts persisted-query retries, labeled by operation name
	// and the error class that triggered the retry (spec.md §4.4).
	GQLRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropsminer_gql_retries_total",
			Help: "Total GraphQL request retries by operation and error class",
		},
		[]string{"operation", "class"},
	)

	// ClaimsAttempted counts claim attempts, labeled by outcome.
	ClaimsAttempted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropsminer_claims_total",
			Help: "Total drop claim attempts by outcome",
		},
		[]string{"outcome"},
	)

	// CampaignAvailability is TimedDrop.Availability's bottleneck value per
	// campaign (the minimum across its unclaimed drops): minutes of
	// real-time remaining per minute of watch-time still required, +Inf
	// when no drop is time-constrained. Supplemental observability only —
	// no scheduling decision reads this gauge.
	CampaignAvailability = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dropsminer_campaign_availability",
			Help: "Minimum per-drop availability ratio across a campaign's unclaimed drops",
		},
		[]string{"campaign"},
	)

	// TrackedChannels reports the scheduler's current tracked-channel count
	// against MAX_CHANNELS (spec.md §8).
	TrackedChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropsminer_tracked_channels",
			Help: "Number of channels currently tracked by the scheduler",
		},
	)
)

func init() {
	registry.MustRegister(WebsocketReconnects, GQLRetries, ClaimsAttempted, CampaignAvailability, TrackedChannels)
}

// RecordReconnect increments WebsocketReconnects for reason.
func RecordReconnect(reason string) {
	WebsocketReconnects.WithLabelValues(reason).Inc()
}

// RecordGQLRetry increments GQLRetries for operation/class.
func RecordGQLRetry(operation, class string) {
	GQLRetries.WithLabelValues(operation, class).Inc()
}

// RecordClaim increments ClaimsAttempted for outcome ("success" or
// "failure").
func RecordClaim(outcome string) {
	ClaimsAttempted.WithLabelValues(outcome).Inc()
}

// SetCampaignAvailability sets the availability gauge for campaignID.
func SetCampaignAvailability(campaignID string, availability float64) {
	CampaignAvailability.WithLabelValues(campaignID).Set(availability)
}

// SetTrackedChannels sets the tracked-channel gauge.
func SetTrackedChannels(n int) {
	TrackedChannels.Set(float64(n))
}

// Snapshot gathers every registered metric family into a flat name→value
// map with one entry per sample, keyed "name{label=value,...}" (just "name"
// for unlabeled metrics); only counter and gauge values are read — good
// enough for --dump's human-readable summary, not a replacement for a real
// scrape endpoint.
func Snapshot() (map[string]float64, error) {
	families, err := registry.Gather()
	if err != nil {
		return nil, dmerrors.Wrap(err, "metrics: gather registry")
	}

	out := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			if label := metricLabel(m); label != "" {
				name += "{" + label + "}"
			}
			out[name] = metricValue(mf.GetType(), m)
		}
	}
	return out, nil
}

func metricLabel(m *dto.Metric) string {
	var s string
	for i, lp := range m.GetLabel() {
		if i > 0 {
			s += ","
		}
		s += lp.GetName() + "=" + lp.GetValue()
	}
	return s
}

func metricValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	default:
		return 0
	}
}
