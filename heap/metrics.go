package heap

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for allocator traffic.
//
// All methods handle a nil receiver, so an allocator created without metrics pays nothing.
type Metrics struct {
	// SizeClassHits counts allocations served by popping a free list, by class size
	SizeClassHits *prometheus.CounterVec

	// SizeClassMints counts blocks carved from the fallback arena to refill a class, by class size
	SizeClassMints *prometheus.CounterVec

	// FallbackAllocations counts oversized allocations served directly by the fallback arena
	FallbackAllocations prometheus.Counter

	// AllocationFailures counts allocations that returned an error
	AllocationFailures prometheus.Counter

	// Deallocations counts successful deallocations, by route
	Deallocations *prometheus.CounterVec

	// FallbackFreeBytes tracks the bytes the fallback arena still has free
	FallbackFreeBytes prometheus.Gauge
}

// NewMetrics creates allocator metrics and registers them with reg. Pass a nil reg to create
// metrics without registering them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SizeClassHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_heap_size_class_hits_total",
				Help: "Allocations served from a size-class free list",
			},
			[]string{"class"},
		),
		SizeClassMints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_heap_size_class_mints_total",
				Help: "Size-class blocks minted from the fallback arena",
			},
			[]string{"class"},
		),
		FallbackAllocations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kcore_heap_fallback_allocations_total",
				Help: "Oversized allocations served by the fallback arena",
			},
		),
		AllocationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kcore_heap_allocation_failures_total",
				Help: "Allocations that failed",
			},
		),
		Deallocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_heap_deallocations_total",
				Help: "Deallocations by route",
			},
			[]string{"route"},
		),
		FallbackFreeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kcore_heap_fallback_free_bytes",
				Help: "Free bytes left in the fallback arena",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.SizeClassHits,
			m.SizeClassMints,
			m.FallbackAllocations,
			m.AllocationFailures,
			m.Deallocations,
			m.FallbackFreeBytes,
		)
	}

	return m
}

func classLabel(class int) string {
	return strconv.Itoa(SizeClasses[class])
}

func (m *Metrics) recordHit(class int) {
	if m == nil {
		return
	}
	m.SizeClassHits.WithLabelValues(classLabel(class)).Inc()
}

func (m *Metrics) recordMint(class int) {
	if m == nil {
		return
	}
	m.SizeClassMints.WithLabelValues(classLabel(class)).Inc()
}

func (m *Metrics) recordFallback() {
	if m == nil {
		return
	}
	m.FallbackAllocations.Inc()
}

func (m *Metrics) recordFailure() {
	if m == nil {
		return
	}
	m.AllocationFailures.Inc()
}

func (m *Metrics) recordDeallocation(route Route) {
	if m == nil {
		return
	}
	label := "fallback"
	if !route.IsFallback() {
		label = classLabel(int(route))
	}
	m.Deallocations.WithLabelValues(label).Inc()
}

func (m *Metrics) setFallbackFree(bytes int) {
	if m == nil {
		return
	}
	m.FallbackFreeBytes.Set(float64(bytes))
}
