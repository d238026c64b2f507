// Package metrics provides Prometheus metrics for the control panel.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "protolink"

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionState   prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ConnectionErrors  prometheus.Counter
	ConnectionLatency prometheus.Histogram

	// Polling metrics
	PollsTotal   *prometheus.CounterVec
	PollsSkipped prometheus.Counter
	PollDuration prometheus.Histogram
	PollErrors   *prometheus.CounterVec

	// Device values
	AnalogMilliAmps *prometheus.GaugeVec
	BankState       *prometheus.GaugeVec

	// Coil writes
	CoilWrites      *prometheus.CounterVec
	SuppressedWrite prometheus.Counter

	// Command metrics
	CommandsTotal *prometheus.CounterVec

	// MQTT metrics
	MQTTMessagesPublished prometheus.Counter
	MQTTMessagesFailed    prometheus.Counter
	MQTTPublishLatency    prometheus.Histogram
}

// NewRegistry creates a new metrics registry with all metrics registered.
// Each Registry owns its own prometheus.Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	r := &Registry{
		registry: reg,

		// Connection metrics
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "connection_state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected)",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "connections_total",
			Help:      "Total number of Modbus connection attempts",
		}),
		ConnectionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "connection_errors_total",
			Help:      "Total number of Modbus connection errors",
		}),
		ConnectionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "connection_latency_seconds",
			Help:      "Modbus connection establishment latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		// Polling metrics
		PollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "polls_total",
			Help:      "Total number of poll cycles",
		}, []string{"status"}),
		PollsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "polls_skipped_total",
			Help:      "Total ticks skipped because a cycle was still running",
		}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		PollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "errors_total",
			Help:      "Total number of poll errors by step",
		}, []string{"step"}),

		// Device values
		AnalogMilliAmps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "analog_milliamps",
			Help:      "Last polled analog input current in mA",
		}, []string{"channel"}),
		BankState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "bit_state",
			Help:      "Last polled digital input and relay states",
		}, []string{"bank", "index"}),

		// Coil writes
		CoilWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coils",
			Name:      "writes_total",
			Help:      "Total single-coil writes by status",
		}, []string{"status"}),
		SuppressedWrite: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coils",
			Name:      "suppressed_writes_total",
			Help:      "Coil updates applied from a poll without a device write",
		}),

		// Command metrics
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "total",
			Help:      "Operator commands by source and result",
		}, []string{"source", "result"}),

		// MQTT metrics
		MQTTMessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_published_total",
			Help:      "Total number of MQTT messages published",
		}),
		MQTTMessagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_failed_total",
			Help:      "Total number of failed MQTT publishes",
		}),
		MQTTPublishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "publish_latency_seconds",
			Help:      "MQTT publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
	}

	return r
}

// Handler returns an HTTP handler exposing this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordConnection records a connection attempt.
func (r *Registry) RecordConnection(success bool, latency float64) {
	r.ConnectionsTotal.Inc()
	if !success {
		r.ConnectionErrors.Inc()
	}
	r.ConnectionLatency.Observe(latency)
}

// SetConnectionState updates the connection state gauge.
func (r *Registry) SetConnectionState(state domain.ConnectionState) {
	r.ConnectionState.Set(float64(state))
}

// RecordPollSuccess records a completed poll cycle.
func (r *Registry) RecordPollSuccess(duration float64) {
	r.PollsTotal.WithLabelValues("success").Inc()
	r.PollDuration.Observe(duration)
}

// RecordPollError records an aborted poll cycle.
func (r *Registry) RecordPollError(step domain.PollStep) {
	r.PollsTotal.WithLabelValues("error").Inc()
	r.PollErrors.WithLabelValues(string(step)).Inc()
}

// RecordPollSkipped records a tick dropped while a cycle was in flight.
func (r *Registry) RecordPollSkipped() {
	r.PollsSkipped.Inc()
}

// UpdateAnalog sets the analog gauge for a channel (1 or 2).
func (r *Registry) UpdateAnalog(channel int, milliAmps float32) {
	r.AnalogMilliAmps.WithLabelValues(strconv.Itoa(channel)).Set(float64(milliAmps))
}

// UpdateBank sets one gauge per bit of a bank ("di" or "do").
func (r *Registry) UpdateBank(bank string, bits [domain.BankSize]bool) {
	for i, on := range bits {
		v := 0.0
		if on {
			v = 1
		}
		r.BankState.WithLabelValues(bank, strconv.Itoa(i+1)).Set(v)
	}
}

// ResetReadings clears device value gauges after a disconnect.
func (r *Registry) ResetReadings() {
	r.AnalogMilliAmps.Reset()
	r.BankState.Reset()
}

// RecordCoilWrite records a device coil write.
func (r *Registry) RecordCoilWrite(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	r.CoilWrites.WithLabelValues(status).Inc()
}

// RecordSuppressedWrite records a poll-originated coil update.
func (r *Registry) RecordSuppressedWrite() {
	r.SuppressedWrite.Inc()
}

// RecordCommand records an operator command.
func (r *Registry) RecordCommand(source, result string) {
	r.CommandsTotal.WithLabelValues(source, result).Inc()
}

// RecordMQTTPublish records an MQTT publish operation.
func (r *Registry) RecordMQTTPublish(success bool, latency float64) {
	if success {
		r.MQTTMessagesPublished.Inc()
	} else {
		r.MQTTMessagesFailed.Inc()
	}
	r.MQTTPublishLatency.Observe(latency)
}
