// Package metrics exposes heap and collector telemetry as Prometheus
// gauges and counters. The heap package never imports this one; the
// root kos package wires Heap.Stats() snapshots into these gauges after
// each collection.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds every gauge/counter this module publishes. Callers
// typically construct one per instance and register it against either
// the default registry or a private one passed in by the embedder.
type Collector struct {
	Pools          prometheus.Gauge
	Pages          prometheus.Gauge
	UsedPages      prometheus.Gauge
	FreePages      prometheus.Gauge
	FullPages      prometheus.Gauge
	AllocatedSlots prometheus.Gauge
	Collections    prometheus.Counter
	HugeObjects    prometheus.Gauge
	HugeBytes      prometheus.Gauge

	ProptableResizes prometheus.Counter
	ArrayResizes     prometheus.Counter

	lastCollections      uint64
	lastProptableResizes uint64
	lastArrayResizes     uint64
}

// New constructs a Collector whose heap metric names are namespaced
// "kos_heap_*" (the two resize counters use "kos_proptable_*" and
// "kos_array_*") and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps multiple instances in one process
// from colliding on metric names.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kos_heap_pools", Help: "Number of heap pools allocated.",
		}),
		Pages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kos_heap_pages", Help: "Total pages across all pools.",
		}),
		UsedPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kos_heap_used_pages", Help: "Pages holding at least one live object.",
		}),
		FreePages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kos_heap_free_pages", Help: "Pages with no live content.",
		}),
		FullPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kos_heap_full_pages", Help: "Pages with no remaining bump-allocation room.",
		}),
		AllocatedSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kos_heap_allocated_slots", Help: "Slots currently allocated across all pages.",
		}),
		Collections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kos_heap_collections_total", Help: "Completed mark/evacuate cycles.",
		}),
		HugeObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kos_heap_huge_objects", Help: "Live off-heap (huge) allocations.",
		}),
		HugeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kos_heap_huge_bytes", Help: "Bytes held by live off-heap allocations.",
		}),
		ProptableResizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kos_proptable_resizes_total", Help: "Property table capacity doublings across all live tables.",
		}),
		ArrayResizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kos_array_resizes_total", Help: "Array storage capacity doublings across all live arrays.",
		}),
	}
	reg.MustRegister(
		c.Pools, c.Pages, c.UsedPages, c.FreePages, c.FullPages,
		c.AllocatedSlots, c.Collections, c.HugeObjects, c.HugeBytes,
		c.ProptableResizes, c.ArrayResizes,
	)
	return c
}

// Snapshot is the subset of heap.Stats this package needs, duplicated
// here rather than importing internal/heap so that metrics stays usable
// without pulling in the collector implementation.
type Snapshot struct {
	Pools, Pages, UsedPages, FreePages, FullPages int
	AllocatedSlots, Collections                   uint64
	HugeObjects                                   int
	HugeBytes                                     uint64
	ProptableResizes, ArrayResizes                uint64
}

// Observe updates every gauge from a fresh snapshot. Collections is a
// monotonic counter: Observe adds the delta since the last observed
// total rather than setting it directly.
func (c *Collector) Observe(s Snapshot) {
	c.Pools.Set(float64(s.Pools))
	c.Pages.Set(float64(s.Pages))
	c.UsedPages.Set(float64(s.UsedPages))
	c.FreePages.Set(float64(s.FreePages))
	c.FullPages.Set(float64(s.FullPages))
	c.AllocatedSlots.Set(float64(s.AllocatedSlots))
	c.HugeObjects.Set(float64(s.HugeObjects))
	c.HugeBytes.Set(float64(s.HugeBytes))

	if s.Collections > c.lastCollections {
		c.Collections.Add(float64(s.Collections - c.lastCollections))
	}
	c.lastCollections = s.Collections

	if delta := s.ProptableResizes - c.lastProptableResizes; delta > 0 {
		c.ProptableResizes.Add(float64(delta))
	}
	c.lastProptableResizes = s.ProptableResizes

	if delta := s.ArrayResizes - c.lastArrayResizes; delta > 0 {
		c.ArrayResizes.Add(float64(delta))
	}
	c.lastArrayResizes = s.ArrayResizes
}
