package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testbench_connections_total",
			Help: "Total number of mail server connections attempted",
		},
		[]string{"protocol", "result"},
	)

	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testbench_connection_duration_seconds",
			Help:    "Duration of mail server sessions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)
)

// IMAP session metrics
var (
	IMAPCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testbench_imap_commands_total",
			Help: "Total number of IMAP commands issued",
		},
		[]string{"command", "status"},
	)

	IMAPCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testbench_imap_command_duration_seconds",
			Help:    "Duration of IMAP commands in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"command"},
	)
)

// Reply engine metrics
var (
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testbench_messages_processed_total",
			Help: "Unread messages processed by the reply engine",
		},
		[]string{"result"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testbench_reply_runs_total",
			Help: "Reply engine runs by outcome",
		},
		[]string{"result"},
	)
)

// SMTP delivery metrics
var (
	RepliesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testbench_replies_sent_total",
			Help: "Reply messages submitted over SMTP",
		},
		[]string{"result"},
	)

	ReplySendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "testbench_reply_send_duration_seconds",
			Help:    "Duration of SMTP reply submissions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Outbound HTTP metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testbench_api_requests_total",
			Help: "REST requests sent to the site under test",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testbench_api_request_duration_seconds",
			Help:    "Duration of REST requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	TunnelLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testbench_tunnel_lookups_total",
			Help: "Tunnel endpoint lookups by provider and result",
		},
		[]string{"provider", "result"},
	)
)

// WriteTextfile writes every registered metric to path in the text
// exposition format, for pickup by a node exporter textfile collector.
func WriteTextfile(path string) error {
	if path == "" {
		return errors.New("metrics textfile path is empty")
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// StatusClass buckets an HTTP status code as "2xx".."5xx", or "error"
// when no response was received.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "error"
	}
}
