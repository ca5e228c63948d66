// Package metrics provides Prometheus instrumentation for the settlement
// engine. Trade counters are partitioned by settlement channel, never by
// direction: for the private channels the direction is exactly what must not
// be observable, including through metric cardinality.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Settlement channel labels for trade counters.
const (
	ChannelPublic       = "public"
	ChannelPrivacy      = "privacy"
	ChannelShielded     = "shielded"
	ChannelConfidential = "confidential"
)

var (
	// TradesTotal counts trades executed, partitioned by settlement channel.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilmarket_trades_total",
		Help: "Total number of trades executed per settlement channel",
	}, []string{"channel"})

	// MarketsCreated counts markets opened.
	MarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilmarket_markets_created_total",
		Help: "Total number of markets created",
	})

	// MarketsResolved counts oracle resolutions.
	MarketsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilmarket_markets_resolved_total",
		Help: "Total number of markets resolved",
	})

	// Redemptions counts winning-token redemptions across all channels.
	Redemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilmarket_redemptions_total",
		Help: "Total number of winning-token redemptions",
	})

	// ClaimsInitialized counts two-phase payout claims opened.
	ClaimsInitialized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilmarket_claims_initialized_total",
		Help: "Total number of payout claims initialized",
	})

	// ClaimsRedeemed counts successful claim payouts.
	ClaimsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilmarket_claims_redeemed_total",
		Help: "Total number of payout claims redeemed",
	})

	// ClaimRejections counts failed claim attempts by reason (invalid_proof,
	// already_claimed, lock_not_elapsed).
	ClaimRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilmarket_claim_rejections_total",
		Help: "Claim attempts rejected, by reason",
	}, []string{"reason"})

	// BlindUpdates counts homomorphic reserve updates applied.
	BlindUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilmarket_blind_updates_total",
		Help: "Total number of blind encrypted-reserve updates",
	})

	// AuditDenials counts audit disclosures rejected for a wrong view key.
	AuditDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilmarket_audit_denials_total",
		Help: "Audit disclosure attempts denied",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "veilmarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilmarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veilmarket_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// RecordTrade increments the trade counter for a settlement channel.
func RecordTrade(channel string) {
	TradesTotal.WithLabelValues(channel).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
