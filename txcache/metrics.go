package txcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the caching executor. Every
// collector is labelled by namespace.
type Metrics struct {
	BufferHits    *prometheus.CounterVec
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	Puts          *prometheus.CounterVec
	Clears        *prometheus.CounterVec
	BackendErrors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	bufferHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txcache_buffer_hits_total",
		Help: "Selects served from the pending write buffer of their own transaction",
	}, []string{"namespace"})

	cacheHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txcache_cache_hits_total",
		Help: "Selects served from the shared cache",
	}, []string{"namespace"})

	cacheMisses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txcache_cache_misses_total",
		Help: "Selects that reached the database",
	}, []string{"namespace"})

	puts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txcache_puts_total",
		Help: "Buffered results written to the shared cache on commit",
	}, []string{"namespace"})

	clears := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txcache_clears_total",
		Help: "Namespace clears applied at the end of a transaction",
	}, []string{"namespace"})

	backendErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txcache_backend_errors_total",
		Help: "Cache backend failures, by operation",
	}, []string{"namespace", "op"})

	if reg != nil {
		reg.MustRegister(bufferHits, cacheHits, cacheMisses, puts, clears, backendErrors)
	}

	return &Metrics{
		BufferHits:    bufferHits,
		CacheHits:     cacheHits,
		CacheMisses:   cacheMisses,
		Puts:          puts,
		Clears:        clears,
		BackendErrors: backendErrors,
	}
}
