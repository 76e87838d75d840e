// Package metrics provides the counters and gauges spec.md §4.8 wants
// exposed for switch-level observability, backed by the real Prometheus
// client rather than a hand-rolled exporter.
//
// Grounded on the teacher's pkg/metrics/metrics.go (named Counter/Gauge
// wrapper types, one per concern) but backed by
// github.com/prometheus/client_golang/prometheus instead of sync/atomic
// counters, so the values can be scraped by an external Prometheus server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set groups every metric a Switch reports. A nil *Set is valid everywhere
// it is accepted as an argument — every method on it is a documented no-op,
// so metrics remain fully optional (spec.md §4.8).
type Set struct {
	registry *prometheus.Registry

	packetsSent      prometheus.Counter
	packetsDropped   *prometheus.CounterVec
	opensCompleted   prometheus.Counter
	opensTimedOut    prometheus.Counter
	opensRejected    *prometheus.CounterVec
	linesReplaced    prometheus.Counter
	linesEstablished prometheus.Gauge
	writeQueueDepth  prometheus.Gauge
}

// New registers a fresh metric set against a new Registry and returns it.
func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telehash_packets_sent_total",
			Help: "Total UDP packets sent by the reactor.",
		}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telehash_packets_dropped_total",
			Help: "Total inbound packets dropped, by reason.",
		}, []string{"reason"}),
		opensCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telehash_opens_completed_total",
			Help: "Total open handshakes that completed successfully.",
		}),
		opensTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telehash_opens_timed_out_total",
			Help: "Total pending opens that expired without a reply.",
		}),
		opensRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telehash_opens_rejected_total",
			Help: "Total inbound opens rejected, by reason.",
		}, []string{"reason"}),
		linesReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telehash_lines_replaced_total",
			Help: "Total established lines torn down by a newer open from the same peer.",
		}),
		linesEstablished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telehash_lines_established",
			Help: "Current number of established lines.",
		}),
		writeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telehash_write_queue_depth",
			Help: "Current depth of the reactor's outbound write queue.",
		}),
	}
	reg.MustRegister(
		s.packetsSent, s.packetsDropped,
		s.opensCompleted, s.opensTimedOut, s.opensRejected,
		s.linesReplaced, s.linesEstablished, s.writeQueueDepth,
	)
	return s
}

// Registry returns the underlying Prometheus registry for wiring into an
// HTTP exposition handler.
func (s *Set) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Set) PacketSent() {
	if s != nil {
		s.packetsSent.Inc()
	}
}

func (s *Set) PacketDropped(reason string) {
	if s != nil {
		s.packetsDropped.WithLabelValues(reason).Inc()
	}
}

func (s *Set) OpenCompleted() {
	if s != nil {
		s.opensCompleted.Inc()
	}
}

func (s *Set) OpenTimedOut() {
	if s != nil {
		s.opensTimedOut.Inc()
	}
}

func (s *Set) OpenRejected(reason string) {
	if s != nil {
		s.opensRejected.WithLabelValues(reason).Inc()
	}
}

func (s *Set) LineReplaced() {
	if s != nil {
		s.linesReplaced.Inc()
	}
}

func (s *Set) SetLinesEstablished(n int) {
	if s != nil {
		s.linesEstablished.Set(float64(n))
	}
}

func (s *Set) SetWriteQueueDepth(n int) {
	if s != nil {
		s.writeQueueDepth.Set(float64(n))
	}
}
