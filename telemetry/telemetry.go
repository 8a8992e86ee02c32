// Package telemetry exposes the bus's live counters and gauges as
// Prometheus metrics: queue depths, frame counts by outcome,
// shame-slot occupancy, active-address count, and slab exhaustion.
// Grounded on the teacher's stats package, scaled down from aistore's
// much larger tracker-map design to a handful of GaugeFunc/CounterFunc
// metrics that read straight from the live atomics already exposed by
// dispatch.Dispatcher, addrtable.Table, and slab.Pool — no separate
// sampling loop or intermediate tracker state is needed.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anachro-go/rs485bus/addrtable"
	"github.com/anachro-go/rs485bus/dispatch"
	"github.com/anachro-go/rs485bus/slab"
)

const namespace = "rs485bus"

// Registry owns a private Prometheus registry (deliberately not the
// global default one, mirroring the teacher's own isolated registry)
// wired to a single node's live dispatch/address-table/slab state.
type Registry struct {
	reg *prometheus.Registry
}

// New registers every metric against d, table, and pool and returns
// the Registry. Call Handler to serve /metrics.
func New(d *dispatch.Dispatcher, table *addrtable.Table, pool *slab.Pool) *Registry {
	reg := prometheus.NewRegistry()

	mustCounterFunc(reg, "frames_in_total", "Frames accepted from the line driver.", func() float64 { return float64(d.FramesIn()) })
	mustCounterFunc(reg, "frames_out_total", "Frames handed to the line driver.", func() float64 { return float64(d.FramesOut()) })
	mustCounterFunc(reg, "frames_dropped_total", "Frames dropped for any error class.", func() float64 { return float64(d.FramesDropped()) })
	mustCounterFunc(reg, "shame_events_total", "Outgoing frames stashed in the shame queue due to to_io or to_io_hi back-pressure.", func() float64 { return float64(d.ShameEvents()) })
	mustCounterFunc(reg, "slab_exhausted_total", "AllocBox calls that found no free chunk.", func() float64 { return float64(pool.Exhausted()) })

	mustGaugeFunc(reg, "queue_depth", "Current occupancy of a dispatch queue.", prometheus.Labels{"queue": "to_io"}, func() float64 {
		toIO, _, _, _ := d.QueueDepths()
		return float64(toIO)
	})
	mustGaugeFunc(reg, "queue_depth", "Current occupancy of a dispatch queue.", prometheus.Labels{"queue": "to_io_hi"}, func() float64 {
		_, toIOHi, _, _ := d.QueueDepths()
		return float64(toIOHi)
	})
	mustGaugeFunc(reg, "queue_depth", "Current occupancy of a dispatch queue.", prometheus.Labels{"queue": "to_dispatch"}, func() float64 {
		_, _, toDispatch, _ := d.QueueDepths()
		return float64(toDispatch)
	})
	mustGaugeFunc(reg, "queue_depth", "Current occupancy of a dispatch queue.", prometheus.Labels{"queue": "shame"}, func() float64 {
		_, _, _, shame := d.QueueDepths()
		return float64(shame)
	})

	mustGaugeFunc(reg, "active_addresses", "Number of Sub addresses currently marked active.", nil, func() float64 { return float64(table.Count()) })
	mustGaugeFunc(reg, "slab_free_chunks", "Chunks currently on the slab pool's free list.", nil, func() float64 { return float64(pool.Free()) })

	return &Registry{reg: reg}
}

func mustCounterFunc(reg *prometheus.Registry, name, help string, fn func() float64) {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, fn)
	reg.MustRegister(c)
}

func mustGaugeFunc(reg *prometheus.Registry, name, help string, labels prometheus.Labels, fn func() float64) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help, ConstLabels: labels}, fn)
	reg.MustRegister(g)
}

// Handler serves the registered metrics in the Prometheus exposition
// format, for mounting under /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
