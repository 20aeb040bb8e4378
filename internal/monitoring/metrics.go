package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the intake backend
type Metrics struct {
	// Chat metrics
	ChatConnections prometheus.Gauge
	ChatTurns       *prometheus.CounterVec
	ChatTurnSeconds prometheus.Histogram

	// Notification stream metrics
	StreamClients          prometheus.Gauge
	NotificationsDelivered prometheus.Counter

	// Summary pipeline metrics
	SummariesGenerated *prometheus.CounterVec
	SummarySeconds     prometheus.Histogram

	// Document metrics
	UploadsTotal *prometheus.CounterVec
	OCRTotal     *prometheus.CounterVec

	// Lawyer webhook metrics
	WebhooksReceived *prometheus.CounterVec

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics on the default registry, which is what
// promhttp serves on /metrics.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewTestMetrics creates a fully wired Metrics on a throwaway registry so
// tests can construct as many instances as they need.
func NewTestMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.NewRegistry()))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		// Active WebSocket chat sessions
		ChatConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "anwado_chat_connections",
				Help: "Number of currently open WebSocket chat sessions",
			},
		),

		// Chat Turn Counter
		ChatTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anwado_chat_turns_total",
				Help: "Total number of chat turns processed",
			},
			[]string{"status"}, // status: completed, failed
		),

		// Chat Turn Duration Histogram
		ChatTurnSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "anwado_chat_turn_seconds",
				Help:    "Wall-clock duration of a full chat turn including agent streaming",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
			},
		),

		// Active SSE notification streams
		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "anwado_stream_clients",
				Help: "Number of currently connected notification stream clients",
			},
		),

		// Delivered Notification Counter
		NotificationsDelivered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "anwado_notifications_delivered_total",
				Help: "Total number of notifications pushed over the event stream",
			},
		),

		// Summary Generation Counter
		SummariesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anwado_summaries_generated_total",
				Help: "Total number of case summaries produced",
			},
			[]string{"mode", "status"}, // mode: generate, regenerate; status: ok, error
		),

		// Summary Pipeline Duration Histogram
		SummarySeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "anwado_summary_seconds",
				Help:    "Duration of the summary artifact pipeline",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
			},
		),

		// Document Upload Counter
		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anwado_uploads_total",
				Help: "Total number of document uploads",
			},
			[]string{"status"}, // status: completed, rejected, failed
		),

		// OCR Extraction Counter
		OCRTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anwado_ocr_total",
				Help: "Total number of OCR extraction attempts",
			},
			[]string{"status"}, // status: completed, failed
		),

		// Lawyer Webhook Counter
		WebhooksReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anwado_lawyer_webhooks_total",
				Help: "Total number of lawyer response webhooks received",
			},
			[]string{"result"}, // result: accepted, unauthorized, invalid, forbidden, not_found, error
		),

		// HTTP Request Duration Histogram
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anwado_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// RecordChatTurn records the outcome of one chat turn
func (m *Metrics) RecordChatTurn(completed bool, seconds float64) {
	status := "failed"
	if completed {
		status = "completed"
	}
	m.ChatTurns.WithLabelValues(status).Inc()
	m.ChatTurnSeconds.Observe(seconds)
}

// RecordSummary records a summary pipeline run
func (m *Metrics) RecordSummary(mode string, err error, seconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SummariesGenerated.WithLabelValues(mode, status).Inc()
	m.SummarySeconds.Observe(seconds)
}

// RecordUpload records a document upload outcome
func (m *Metrics) RecordUpload(status string) {
	m.UploadsTotal.WithLabelValues(status).Inc()
}

// RecordOCR records an OCR extraction outcome
func (m *Metrics) RecordOCR(err error) {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.OCRTotal.WithLabelValues(status).Inc()
}

// RecordWebhook records a lawyer webhook outcome
func (m *Metrics) RecordWebhook(result string) {
	m.WebhooksReceived.WithLabelValues(result).Inc()
}
