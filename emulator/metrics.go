package emulator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts sends per sensor type.
type Metrics struct {
	sent     *prometheus.CounterVec
	failures *prometheus.CounterVec
	workers  prometheus.Gauge
}

// NewMetrics registers the emulator collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emulator_messages_sent_total",
			Help: "Messages accepted by the queue, by sensor type and payload kind.",
		}, []string{"sensor_type", "payload"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emulator_send_failures_total",
			Help: "Iterations abandoned because of an error, by sensor type.",
		}, []string{"sensor_type"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emulator_workers_running",
			Help: "Sensor workers currently running.",
		}),
	}
	reg.MustRegister(m.sent, m.failures, m.workers)
	return m
}

func (m *Metrics) Record(e Event) {
	sensorType := e.SensorType
	if e.Err != nil {
		m.failures.WithLabelValues(sensorType).Inc()
		return
	}
	payload := "valid"
	if e.Injected {
		payload = "invalid"
	}
	m.sent.WithLabelValues(sensorType, payload).Inc()
}

func (m *Metrics) workerStarted() { m.workers.Inc() }
func (m *Metrics) workerStopped() { m.workers.Dec() }
