package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts fetch, cache and channel activity. A nil *Metrics is a no-op,
// so instrumentation points never need to guard against a missing registry.
type Metrics struct {
	fetches     *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	pushFrames  prometheus.Counter
	connects    prometheus.Counter
	disconnects prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	return &Metrics{
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "entitysync_fetches_total",
			Help: "Fetch operations by entity and terminal status.",
		}, []string{"entity", "status"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "entitysync_cache_hits_total",
			Help: "Fetches that found an existing cache record for their key.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "entitysync_cache_misses_total",
			Help: "Fetches with no cache record for their key.",
		}),
		pushFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "entitysync_push_frames_total",
			Help: "Inbound non-reply frames dispatched to the message handler.",
		}),
		connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "entitysync_connects_total",
			Help: "Successful channel session connects.",
		}),
		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "entitysync_disconnects_total",
			Help: "Channel session disconnects.",
		}),
	}
}

func (self *Metrics) countFetch(entityType string, status LoadingStatus) {
	if self == nil {
		return
	}
	self.fetches.WithLabelValues(entityType, status.String()).Inc()
}

func (self *Metrics) countCacheRead(hit bool) {
	if self == nil {
		return
	}
	if hit {
		self.cacheHits.Inc()
	} else {
		self.cacheMisses.Inc()
	}
}

func (self *Metrics) countPushFrame() {
	if self == nil {
		return
	}
	self.pushFrames.Inc()
}

func (self *Metrics) countConnect() {
	if self == nil {
		return
	}
	self.connects.Inc()
}

func (self *Metrics) countDisconnect() {
	if self == nil {
		return
	}
	self.disconnects.Inc()
}
