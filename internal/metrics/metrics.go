// Package metrics holds the daemon's Prometheus instruments. The registry is
// the default one; the API module serves it on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts messages published to the remote store.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_sent_total",
		Help: "Messages successfully published to the store.",
	})

	// SendFailures counts outbox entries that failed to publish.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_send_failures_total",
		Help: "Outbox entries that failed to publish.",
	})

	// StatusesPosted counts broadcast statuses posted by this daemon.
	StatusesPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_statuses_posted_total",
		Help: "Broadcast statuses posted.",
	})

	// WatchClients tracks currently connected event-stream clients.
	WatchClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_watch_clients",
		Help: "Connected websocket event-stream clients.",
	})
)
