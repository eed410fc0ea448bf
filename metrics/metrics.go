// Package metrics exposes allocator statistics as prometheus gauges. Gauges are only written by the
// goroutine that owns the observed allocator, and may be scraped from any goroutine.
package metrics

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pengine/pstd/arena"
	"github.com/pengine/pstd/memutils"
	"github.com/prometheus/client_golang/prometheus"
)

// Heap holds gauges describing a heap.Registry
type Heap struct {
	Pools             prometheus.Gauge
	PoolBytes         prometheus.Gauge
	CommittedBytes    prometheus.Gauge
	Allocations       prometheus.Gauge
	AllocationBytes   prometheus.Gauge
	UnusedRanges      prometheus.Gauge
	LargestUnusedSize prometheus.Gauge
}

func NewHeap(namespace string) *Heap {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "heap",
			Name:      name,
			Help:      help,
		})
	}

	return &Heap{
		Pools:             gauge("pools", "Number of pools reserved by the heap"),
		PoolBytes:         gauge("pool_bytes", "Bytes of address space reserved for pools"),
		CommittedBytes:    gauge("committed_bytes", "Bytes of pool memory backed by committed pages"),
		Allocations:       gauge("allocations", "Number of live heap allocations"),
		AllocationBytes:   gauge("allocation_bytes", "Pool bytes taken by live heap allocations"),
		UnusedRanges:      gauge("unused_ranges", "Number of free ranges across all pools"),
		LargestUnusedSize: gauge("largest_unused_range_bytes", "Size of the largest free range in any pool"),
	}
}

func (h *Heap) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		h.Pools,
		h.PoolBytes,
		h.CommittedBytes,
		h.Allocations,
		h.AllocationBytes,
		h.UnusedRanges,
		h.LargestUnusedSize,
	}
}

// Register registers every gauge with reg
func (h *Heap) Register(reg prometheus.Registerer) error {
	return register(reg, h.collectors())
}

// Observe sets the gauges from statistics gathered with heap.Registry.AddDetailedStatistics
func (h *Heap) Observe(stats memutils.DetailedStatistics) {
	h.Pools.Set(float64(stats.PoolCount))
	h.PoolBytes.Set(float64(stats.PoolBytes))
	h.CommittedBytes.Set(float64(stats.CommittedBytes))
	h.Allocations.Set(float64(stats.AllocationCount))
	h.AllocationBytes.Set(float64(stats.AllocationBytes))
	h.UnusedRanges.Set(float64(stats.UnusedRangeCount))
	h.LargestUnusedSize.Set(float64(stats.UnusedRangeSizeMax))
}

// Arenas holds gauges describing a set of named arenas
type Arenas struct {
	Size *prometheus.GaugeVec
	Used *prometheus.GaugeVec
}

func NewArenas(namespace string) *Arenas {
	return &Arenas{
		Size: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arena",
			Name:      "size_bytes",
			Help:      "Size of the arena's backing memory",
		}, []string{"arena"}),
		Used: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arena",
			Name:      "used_bytes",
			Help:      "Offset of the arena's next free byte",
		}, []string{"arena"}),
	}
}

// Register registers every gauge with reg
func (a *Arenas) Register(reg prometheus.Registerer) error {
	return register(reg, []prometheus.Collector{a.Size, a.Used})
}

// ObserveArena sets the gauges labelled name from the arena's current offset
func (a *Arenas) ObserveArena(name string, observed *arena.Arena) {
	a.Size.WithLabelValues(name).Set(float64(observed.Size()))
	a.Used.WithLabelValues(name).Set(float64(observed.Offset()))
}

// Forget removes the gauges labelled name
func (a *Arenas) Forget(name string) {
	a.Size.DeleteLabelValues(name)
	a.Used.DeleteLabelValues(name)
}

func register(reg prometheus.Registerer, collectors []prometheus.Collector) error {
	for _, collector := range collectors {
		err := reg.Register(collector)
		if err != nil {
			return cerrors.Wrap(err, "failed to register allocator metrics")
		}
	}
	return nil
}
