// Package metrics is the §4.J domain stack: prometheus counters and
// histograms for session/instance lifecycle and RPC/commit latency, plus an
// in-process HdrHistogram sample for fast p99 introspection without a scrape
// round trip.
package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the proxy exposes, registered against its own
// prometheus.Registry so tests can construct isolated instances.
type Registry struct {
	promRegistry *prometheus.Registry

	SessionsCreated   prometheus.Counter
	SessionsRemoved   prometheus.Counter
	InstancesAdded    *prometheus.CounterVec // label: kind (consumer|producer)
	InstancesRemoved  *prometheus.CounterVec // label: kind
	InstancesRejected *prometheus.CounterVec // label: reason
	InstancesEvicted  prometheus.Counter     // over-quota compensation

	CommitsTotal *prometheus.CounterVec // label: trigger (ack|auto-commit-age|eviction|close)

	RPCLatency     prometheus.Histogram
	PublishLatency prometheus.Histogram

	rpcHdr     *hdrhistogram.Histogram
	rpcHdrLock sync.Mutex
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		promRegistry: reg,
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsproxy_sessions_created_total",
			Help: "Sessions created.",
		}),
		SessionsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsproxy_sessions_removed_total",
			Help: "Sessions removed.",
		}),
		InstancesAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsproxy_instances_added_total",
			Help: "Instances added to a session, by kind.",
		}, []string{"kind"}),
		InstancesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsproxy_instances_removed_total",
			Help: "Instances removed from a session, by kind.",
		}, []string{"kind"}),
		InstancesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsproxy_instances_rejected_total",
			Help: "Instance add rejections, by reason.",
		}, []string{"reason"}),
		InstancesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsproxy_instances_evicted_total",
			Help: "Instances evicted via a cross-node capacity compensation.",
		}),
		CommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsproxy_commit_stack_commits_total",
			Help: "Commit stack commits, by trigger.",
		}, []string{"trigger"}),
		RPCLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wsproxy_session_rpc_latency_seconds",
			Help:    "Session Handler RPC latency.",
			Buckets: prometheus.DefBuckets,
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wsproxy_log_publish_latency_seconds",
			Help:    "Session-state log publish latency.",
			Buckets: prometheus.DefBuckets,
		}),
		rpcHdr: hdrhistogram.New(1, 10_000, 3), // 1ms-10s range in whole milliseconds, 3 significant digits
	}

	reg.MustRegister(
		r.SessionsCreated, r.SessionsRemoved,
		r.InstancesAdded, r.InstancesRemoved, r.InstancesRejected, r.InstancesEvicted,
		r.CommitsTotal, r.RPCLatency, r.PublishLatency,
	)
	return r
}

func (r *Registry) PrometheusRegistry() *prometheus.Registry { return r.promRegistry }

// ObserveRPCLatency records d against both the scraped histogram and the
// in-process HdrHistogram used for cheap p99 introspection.
func (r *Registry) ObserveRPCLatency(d time.Duration) {
	r.RPCLatency.Observe(d.Seconds())
	r.rpcHdrLock.Lock()
	_ = r.rpcHdr.RecordValue(d.Milliseconds())
	r.rpcHdrLock.Unlock()
}

// RPCLatencyP99Millis reports the in-process p99 RPC latency without
// waiting on a scrape round trip.
func (r *Registry) RPCLatencyP99Millis() int64 {
	r.rpcHdrLock.Lock()
	defer r.rpcHdrLock.Unlock()
	return r.rpcHdr.ValueAtQuantile(99)
}
