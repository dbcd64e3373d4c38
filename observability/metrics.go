package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connStateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_conn_state_changes_total",
			Help: "Total number of connection state transitions, by new state.",
		},
		[]string{"state"},
	)
	reconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_reconnect_attempts_total",
			Help: "Total number of reconnect attempts.",
		},
	)
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_total",
			Help: "Total number of live channel events.",
		},
		[]string{"direction", "event"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Total number of message sends, by outcome.",
		},
		[]string{"outcome"},
	)
	droppedPacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_dropped_packets_total",
			Help: "Total number of inbound packets dropped as malformed or unroutable.",
		},
		[]string{"event"},
	)
	historyPagesLoadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_history_pages_loaded_total",
			Help: "Total number of history pages merged into timelines.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		connStateChangesTotal,
		reconnectAttemptsTotal,
		eventsTotal,
		sendsTotal,
		droppedPacketsTotal,
		historyPagesLoadedTotal,
	)
}

func IncConnState(state string) {
	connStateChangesTotal.WithLabelValues(state).Inc()
}

func IncReconnectAttempt() {
	reconnectAttemptsTotal.Inc()
}

func IncEvent(direction, event string) {
	eventsTotal.WithLabelValues(direction, event).Inc()
}

func IncSend(outcome string) {
	sendsTotal.WithLabelValues(outcome).Inc()
}

func IncDroppedPacket(event string) {
	droppedPacketsTotal.WithLabelValues(event).Inc()
}

func IncHistoryPageLoaded() {
	historyPagesLoadedTotal.Inc()
}
