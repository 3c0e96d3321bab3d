// Package stats holds the node-wide counters shared by the task graph and
// exported by the status API, both as JSON and as Prometheus metrics.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Counter tracks node activity. All methods are nil-safe: calls on a nil
// *Counter are no-ops.
type Counter struct {
	start time.Time

	fragmentsReceived atomic.Uint64
	fragmentsRejected atomic.Uint64
	blocksReceived    atomic.Uint64
	blocksApplied     atomic.Uint64
	blocksProduced    atomic.Uint64
	peersConnected    atomic.Int64
	tipHeight         atomic.Uint64
	tipHash           atomic.Pointer[types.Hash]
	tipTime           atomic.Int64

	fragmentsReceivedTotal prometheus.Counter
	fragmentsRejectedTotal prometheus.Counter
	blocksReceivedTotal    prometheus.Counter
	blocksAppliedTotal     prometheus.Counter
	blocksProducedTotal    prometheus.Counter
	peersGauge             prometheus.Gauge
	tipHeightGauge         prometheus.Gauge
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime            time.Duration `json:"uptime"`
	FragmentsReceived uint64        `json:"fragments_received"`
	FragmentsRejected uint64        `json:"fragments_rejected"`
	BlocksReceived    uint64        `json:"blocks_received"`
	BlocksApplied     uint64        `json:"blocks_applied"`
	BlocksProduced    uint64        `json:"blocks_produced"`
	PeersConnected    int64         `json:"peers_connected"`
	TipHeight         uint64        `json:"tip_height"`
	TipHash           types.Hash    `json:"tip_hash"`
	TipTime           time.Time     `json:"tip_time"`
}

// New creates counters and registers their collectors with reg. If reg is
// nil, metrics are created but not registered (useful for testing).
func New(reg prometheus.Registerer) *Counter {
	c := &Counter{
		start: time.Now(),
		fragmentsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingnet",
			Subsystem: "fragments",
			Name:      "received_total",
			Help:      "Fragments received from the network or the API",
		}),
		fragmentsRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingnet",
			Subsystem: "fragments",
			Name:      "rejected_total",
			Help:      "Fragments rejected by the pool",
		}),
		blocksReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingnet",
			Subsystem: "blocks",
			Name:      "received_total",
			Help:      "Candidate blocks received by block processing",
		}),
		blocksAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingnet",
			Subsystem: "blocks",
			Name:      "applied_total",
			Help:      "Blocks applied to chain state",
		}),
		blocksProducedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingnet",
			Subsystem: "blocks",
			Name:      "produced_total",
			Help:      "Blocks produced by local leaders",
		}),
		peersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingnet",
			Subsystem: "network",
			Name:      "peers_connected",
			Help:      "Currently connected peers",
		}),
		tipHeightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingnet",
			Subsystem: "chain",
			Name:      "tip_height",
			Help:      "Height of the current chain tip",
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			c.fragmentsReceivedTotal,
			c.fragmentsRejectedTotal,
			c.blocksReceivedTotal,
			c.blocksAppliedTotal,
			c.blocksProducedTotal,
			c.peersGauge,
			c.tipHeightGauge,
		}
		for _, col := range collectors {
			if err := reg.Register(col); err != nil {
				// Ignore AlreadyRegisteredError (a second node in the same process).
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}
	return c
}

// AddFragmentsReceived counts n fragments entering the pool task.
func (c *Counter) AddFragmentsReceived(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.fragmentsReceived.Add(uint64(n))
	c.fragmentsReceivedTotal.Add(float64(n))
}

// AddFragmentsRejected counts n fragments the pool refused.
func (c *Counter) AddFragmentsRejected(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.fragmentsRejected.Add(uint64(n))
	c.fragmentsRejectedTotal.Add(float64(n))
}

// BlockReceived counts one candidate block.
func (c *Counter) BlockReceived() {
	if c == nil {
		return
	}
	c.blocksReceived.Add(1)
	c.blocksReceivedTotal.Inc()
}

// BlockApplied counts one applied block.
func (c *Counter) BlockApplied() {
	if c == nil {
		return
	}
	c.blocksApplied.Add(1)
	c.blocksAppliedTotal.Inc()
}

// BlockProduced counts one locally produced block.
func (c *Counter) BlockProduced() {
	if c == nil {
		return
	}
	c.blocksProduced.Add(1)
	c.blocksProducedTotal.Inc()
}

// SetPeers records the connected peer count.
func (c *Counter) SetPeers(n int) {
	if c == nil {
		return
	}
	c.peersConnected.Store(int64(n))
	c.peersGauge.Set(float64(n))
}

// SetTip records the current chain tip.
func (c *Counter) SetTip(hash types.Hash, height uint64, at time.Time) {
	if c == nil {
		return
	}
	h := hash
	c.tipHash.Store(&h)
	c.tipHeight.Store(height)
	c.tipTime.Store(at.UnixMilli())
	c.tipHeightGauge.Set(float64(height))
}

// Snapshot returns the current counter values.
func (c *Counter) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	s := Snapshot{
		Uptime:            time.Since(c.start),
		FragmentsReceived: c.fragmentsReceived.Load(),
		FragmentsRejected: c.fragmentsRejected.Load(),
		BlocksReceived:    c.blocksReceived.Load(),
		BlocksApplied:     c.blocksApplied.Load(),
		BlocksProduced:    c.blocksProduced.Load(),
		PeersConnected:    c.peersConnected.Load(),
		TipHeight:         c.tipHeight.Load(),
	}
	if h := c.tipHash.Load(); h != nil {
		s.TipHash = *h
	}
	if ms := c.tipTime.Load(); ms != 0 {
		s.TipTime = time.UnixMilli(ms)
	}
	return s
}
