// Package metrics exports prometheus gauges/counters for one media
// session's queue depths, governor refcount, and decode outcomes. It
// exports into a caller-supplied *prometheus.Registry rather than running
// its own HTTP handler; this module has no server in scope, only the
// instrumentation a host process would scrape.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the instruments for one MediaContext. Every instrument
// carries a constant "media_id" label so several sessions can share one
// *prometheus.Registry without their series colliding.
type Registry struct {
	packetQueueDepth prometheus.Gauge
	framesQueueDepth prometheus.Gauge
	sinkQueueDepth   prometheus.Gauge

	governorRefcount prometheus.Gauge
	governorRefmax   prometheus.Gauge

	framesDecoded prometheus.Counter
	framesDropped prometheus.Counter
}

// NewRegistry builds the instrument set for mediaID. Call Register to
// attach it to a *prometheus.Registry before any Observe/Inc call, or the
// updates simply accumulate unexported until something scrapes them.
func NewRegistry(mediaID string) *Registry {
	labels := prometheus.Labels{"media_id": mediaID}
	return &Registry{
		packetQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mediadecode_packet_queue_depth",
			Help:        "Number of packets currently buffered between reader and decoder.",
			ConstLabels: labels,
		}),
		framesQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mediadecode_frames_queue_depth",
			Help:        "Number of decoded frames currently buffered between decoder and filter.",
			ConstLabels: labels,
		}),
		sinkQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mediadecode_sink_queue_depth",
			Help:        "Number of filtered frames currently buffered for get_frame.",
			ConstLabels: labels,
		}),
		governorRefcount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mediadecode_governor_refcount",
			Help:        "Buffers currently held outside the decoder (spec governor refcount).",
			ConstLabels: labels,
		}),
		governorRefmax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mediadecode_governor_refmax",
			Help:        "Current cap on buffers held outside the decoder (spec governor refmax).",
			ConstLabels: labels,
		}),
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mediadecode_frames_decoded_total",
			Help:        "Frames successfully emitted by the decoder worker.",
			ConstLabels: labels,
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mediadecode_frames_dropped_total",
			Help:        "Undecodable packets dropped by the decoder worker (spec §7: non-fatal InvalidData).",
			ConstLabels: labels,
		}),
	}
}

// Register attaches every instrument in r to reg. Safe to call once per
// Registry; a second registration attempt against the same *prometheus.
// Registry returns the AlreadyRegisteredError.
func (r *Registry) Register(reg *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		r.packetQueueDepth, r.framesQueueDepth, r.sinkQueueDepth,
		r.governorRefcount, r.governorRefmax,
		r.framesDecoded, r.framesDropped,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// depther is satisfied by *queue.Queue[T] for any T, without this package
// importing the queue package's type parameter.
type depther interface {
	Len() int
}

// ObserveQueues samples the three pipeline queues' current depth. Cheap
// enough to call on every PopFrame.
func (r *Registry) ObserveQueues(packetQ, framesQ, sinkQ depther) {
	if r == nil {
		return
	}
	r.packetQueueDepth.Set(float64(packetQ.Len()))
	r.framesQueueDepth.Set(float64(framesQ.Len()))
	r.sinkQueueDepth.Set(float64(sinkQ.Len()))
}

// ObserveGovernor samples a governor's refcount/refmax pair.
func (r *Registry) ObserveGovernor(refcount, refmax int) {
	if r == nil {
		return
	}
	r.governorRefcount.Set(float64(refcount))
	r.governorRefmax.Set(float64(refmax))
}

// IncFramesDecoded records one frame successfully emitted by the decoder.
func (r *Registry) IncFramesDecoded() {
	if r == nil {
		return
	}
	r.framesDecoded.Inc()
}

// IncFramesDropped records one undecodable packet dropped rather than
// failing the session (spec §7).
func (r *Registry) IncFramesDropped() {
	if r == nil {
		return
	}
	r.framesDropped.Inc()
}
