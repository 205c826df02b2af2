package engine

import "github.com/prometheus/client_golang/prometheus"

const namespace = "libtracy"

// metrics bundles every collector the engine reports. Each Engine builds
// its own instance against its own prometheus.Registerer (newMetrics), so
// multiple Init calls in one process — or multiple engines in the same
// test binary — never collide by registering the same collector objects
// against prometheus.DefaultRegisterer twice.
type metrics struct {
	framesSent      prometheus.Counter
	bytesFlushed    prometheus.Counter
	eventsDropped   *prometheus.CounterVec
	connectionState prometheus.Gauge
	beaconsSent     prometheus.Counter
	bufferOccupancy prometheus.Gauge
}

// newMetrics builds a fresh set of collectors and registers them against
// reg. Called once from New so two engines in the same process (as in
// tests, or as in two sequential libtracy.Init calls) each get their own
// collector instances instead of sharing package-level singletons.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		framesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_sent_total",
				Help:      "total number of TracePush frames written to the collector",
			},
		),
		bytesFlushed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_flushed_total",
				Help:      "total number of bytes written to the collector across all frames",
			},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "total number of trace events discarded instead of buffered",
			},
			[]string{"reason"},
		),
		connectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_active",
				Help:      "1 if a collector is currently connected, 0 otherwise",
			},
		),
		beaconsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "beacons_sent_total",
				Help:      "total number of UDP announcement datagrams sent",
			},
		),
		bufferOccupancy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "buffer_occupancy_bytes",
				Help:      "current byte occupancy of the batching buffer",
			},
		),
	}

	reg.MustRegister(
		m.framesSent,
		m.bytesFlushed,
		m.eventsDropped,
		m.connectionState,
		m.beaconsSent,
		m.bufferOccupancy,
	)

	return m
}
