package metrics

import (
	"net/http"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/portutils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the suite's Prometheus collectors on a private registry.
// It observes the emulator registry and port probes.
type Metrics struct {
	registry *prometheus.Registry

	EmulatorsRunning prometheus.Gauge
	EmulatorUp       *prometheus.GaugeVec
	EmulatorStarts   *prometheus.CounterVec
	EmulatorStops    *prometheus.CounterVec
	PortProbes       *prometheus.CounterVec
	StartTime        prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		EmulatorsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "emulators_running",
			Help: "Number of registered emulators",
		}),
		EmulatorUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "emulator_up",
			Help: "1 while the emulator is registered",
		}, []string{"emulator"}),
		EmulatorStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "emulator_starts_total",
			Help: "Total number of emulator registrations",
		}, []string{"emulator"}),
		EmulatorStops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "emulator_stops_total",
			Help: "Total number of emulator deregistrations",
		}, []string{"emulator", "result"}),
		PortProbes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "port_probes_total",
			Help: "Total number of port listenability probes",
		}, []string{"family", "result"}),
		StartTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "emulators_start_time_seconds",
			Help: "Unix time the orchestrator started",
		}),
	}
	m.StartTime.Set(float64(time.Now().Unix()))
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EmulatorRegistered(info emulator.Info) {
	name := string(info.Name)
	m.EmulatorsRunning.Inc()
	m.EmulatorUp.WithLabelValues(name).Set(1)
	m.EmulatorStarts.WithLabelValues(name).Inc()
}

func (m *Metrics) EmulatorDeregistered(info emulator.Info, stopErr error) {
	name := string(info.Name)
	result := "ok"
	if stopErr != nil {
		result = "error"
	}
	m.EmulatorsRunning.Dec()
	m.EmulatorUp.WithLabelValues(name).Set(0)
	m.EmulatorStops.WithLabelValues(name, result).Inc()
}

func (m *Metrics) PortProbed(candidate portutils.Candidate, listenable bool) {
	result := "busy"
	if listenable {
		result = "free"
	}
	m.PortProbes.WithLabelValues(string(candidate.Family), result).Inc()
}

var (
	_ emulator.Observer       = (*Metrics)(nil)
	_ portutils.ProbeObserver = (*Metrics)(nil)
)
