package eventstreamrpc

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "eventstreamrpc"

// Metrics holds the client collectors. A nil *Metrics records nothing.
type Metrics struct {
	connectAttempts   prometheus.Counter
	connectResults    *prometheus.CounterVec
	activeConnections prometheus.Gauge
	streamsOpened     prometheus.Counter
	messagesSent      *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer,
// which may be nil to skip registration.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connect_attempts_total",
			Help:      "Connect calls that reached the channel engine.",
		}),
		connectResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connect_results_total",
			Help:      "Connect outcomes by status.",
		}, []string{"status"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Connections in the Connected state.",
		}),
		streamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "streams_opened_total",
			Help:      "Continuations whose activation was sent.",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Messages handed to the channel engine by type.",
		}, []string{"type"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Messages delivered by the channel engine by type.",
		}, []string{"type"}),
	}

	if registerer != nil {
		for _, collector := range metrics.collectors() {
			if err := registerer.Register(collector); err != nil {
				return nil, err
			}
		}
	}
	return metrics, nil
}

func (metrics *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		metrics.connectAttempts,
		metrics.connectResults,
		metrics.activeConnections,
		metrics.streamsOpened,
		metrics.messagesSent,
		metrics.messagesReceived,
	}
}

func (metrics *Metrics) connectAttempted() {
	if metrics == nil {
		return
	}
	metrics.connectAttempts.Inc()
}

func (metrics *Metrics) connectResolved(result RpcError) {
	if metrics == nil {
		return
	}
	metrics.connectResults.WithLabelValues(result.StatusCode.String()).Inc()
}

func (metrics *Metrics) connectionOpened() {
	if metrics == nil {
		return
	}
	metrics.activeConnections.Inc()
}

func (metrics *Metrics) connectionClosed() {
	if metrics == nil {
		return
	}
	metrics.activeConnections.Dec()
}

func (metrics *Metrics) streamOpened() {
	if metrics == nil {
		return
	}
	metrics.streamsOpened.Inc()
}

func (metrics *Metrics) messageSent(messageType MessageType) {
	if metrics == nil {
		return
	}
	metrics.messagesSent.WithLabelValues(messageType.String()).Inc()
}

func (metrics *Metrics) messageReceived(messageType MessageType) {
	if metrics == nil {
		return
	}
	metrics.messagesReceived.WithLabelValues(messageType.String()).Inc()
}
