// Package metrics holds the Prometheus registry and the service metric
// sets. Metrics are opt-in: until Init is called every constructor returns
// nil and the nil receivers record nothing, so instrumented code never
// checks a flag.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry
	enabled  bool
)

// Init creates the registry with the standard process and Go collectors.
func Init() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	enabled = true
}

// IsEnabled reports whether Init has been called.
func IsEnabled() bool { return enabled }

// Registry returns the active registry, or nil when metrics are disabled.
func Registry() *prometheus.Registry { return registry }

// Handler serves the /metrics endpoint. Returns a 404 handler when metrics
// are disabled so the route can be registered unconditionally.
func Handler() http.Handler {
	if !enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ShareMetrics counts cloud-mode share activity.
type ShareMetrics struct {
	uploadsIssued    prometheus.Counter
	uploadsFinalized prometheus.Counter
	downloadsIssued  prometheus.Counter
	sharesRevoked    prometheus.Counter
	policyRejections *prometheus.CounterVec
}

// NewShareMetrics registers the share counters. Returns nil when metrics
// are disabled.
func NewShareMetrics() *ShareMetrics {
	if !enabled {
		return nil
	}
	return &ShareMetrics{
		uploadsIssued: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sharesync_uploads_issued_total",
			Help: "Presigned upload URLs issued",
		}),
		uploadsFinalized: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sharesync_uploads_finalized_total",
			Help: "Uploads confirmed and made available",
		}),
		downloadsIssued: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sharesync_downloads_issued_total",
			Help: "Presigned download URLs issued",
		}),
		sharesRevoked: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sharesync_shares_revoked_total",
			Help: "Shares revoked by their owner before expiry",
		}),
		policyRejections: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "sharesync_upload_rejections_total",
			Help: "Upload requests refused by policy",
		}, []string{"reason"}),
	}
}

func (m *ShareMetrics) UploadIssued() {
	if m != nil {
		m.uploadsIssued.Inc()
	}
}

func (m *ShareMetrics) UploadFinalized() {
	if m != nil {
		m.uploadsFinalized.Inc()
	}
}

func (m *ShareMetrics) DownloadIssued() {
	if m != nil {
		m.downloadsIssued.Inc()
	}
}

func (m *ShareMetrics) ShareRevoked() {
	if m != nil {
		m.sharesRevoked.Inc()
	}
}

// PolicyRejection records an upload refused by policy, labeled with the
// error-taxonomy code.
func (m *ShareMetrics) PolicyRejection(reason string) {
	if m != nil {
		m.policyRejections.WithLabelValues(reason).Inc()
	}
}

// SweeperMetrics counts cleanup-engine activity.
type SweeperMetrics struct {
	expired        prometheus.Counter
	deleted        prometheus.Counter
	deleteFailures prometheus.Counter
	hardDeleted    prometheus.Counter
	sweepDuration  prometheus.Histogram
}

// NewSweeperMetrics registers the sweeper counters. Returns nil when
// metrics are disabled.
func NewSweeperMetrics() *SweeperMetrics {
	if !enabled {
		return nil
	}
	return &SweeperMetrics{
		expired: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sharesync_sweeper_expired_total",
			Help: "Shares transitioned to expired",
		}),
		deleted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sharesync_sweeper_deleted_total",
			Help: "Share objects deleted from storage",
		}),
		deleteFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sharesync_sweeper_delete_failures_total",
			Help: "Object deletions that failed and were scheduled for retry",
		}),
		hardDeleted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sharesync_sweeper_hard_deleted_total",
			Help: "Share rows removed after the retention window",
		}),
		sweepDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "sharesync_sweeper_sweep_duration_seconds",
			Help:    "Duration of one full sweep",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *SweeperMetrics) Expired(n int) {
	if m != nil {
		m.expired.Add(float64(n))
	}
}

func (m *SweeperMetrics) Deleted() {
	if m != nil {
		m.deleted.Inc()
	}
}

func (m *SweeperMetrics) DeleteFailure() {
	if m != nil {
		m.deleteFailures.Inc()
	}
}

func (m *SweeperMetrics) HardDeleted(n int64) {
	if m != nil {
		m.hardDeleted.Add(float64(n))
	}
}

func (m *SweeperMetrics) ObserveSweep(seconds float64) {
	if m != nil {
		m.sweepDuration.Observe(seconds)
	}
}

// HubMetrics tracks live signaling state.
type HubMetrics struct {
	connectedPeers prometheus.Gauge
	activeRooms    prometheus.Gauge
	relayedFrames  prometheus.Counter
}

// NewHubMetrics registers the hub gauges. Returns nil when metrics are
// disabled.
func NewHubMetrics() *HubMetrics {
	if !enabled {
		return nil
	}
	return &HubMetrics{
		connectedPeers: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "sharesync_signaling_connected_peers",
			Help: "Currently connected signaling peers",
		}),
		activeRooms: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "sharesync_signaling_active_rooms",
			Help: "Rooms with at least one peer",
		}),
		relayedFrames: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sharesync_signaling_relayed_frames_total",
			Help: "Directed WebRTC frames relayed between peers",
		}),
	}
}

func (m *HubMetrics) SetConnectedPeers(n int) {
	if m != nil {
		m.connectedPeers.Set(float64(n))
	}
}

func (m *HubMetrics) SetActiveRooms(n int) {
	if m != nil {
		m.activeRooms.Set(float64(n))
	}
}

func (m *HubMetrics) FrameRelayed() {
	if m != nil {
		m.relayedFrames.Inc()
	}
}

// HTTPMetrics instruments the API router.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers the request counters. Returns nil when metrics
// are disabled.
func NewHTTPMetrics() *HTTPMetrics {
	if !enabled {
		return nil
	}
	return &HTTPMetrics{
		requests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "sharesync_http_requests_total",
			Help: "HTTP requests by route pattern, method and status class",
		}, []string{"route", "method", "status"}),
		duration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sharesync_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route"}),
	}
}

func (m *HTTPMetrics) Observe(route, method, status string, seconds float64) {
	if m != nil {
		m.requests.WithLabelValues(route, method, status).Inc()
		m.duration.WithLabelValues(route).Observe(seconds)
	}
}
