// Package metrics defines the Prometheus collectors GKT components report to.
//
// All methods are safe to call on a nil *Collectors, which is what library
// code holds when the caller did not ask for metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gkt"

// Collectors groups the counters exported by the tree and stream packages.
type Collectors struct {
	Frames             *prometheus.CounterVec
	ChecksumMismatches prometheus.Counter
	DegradedFrames     prometheus.Counter
	DiscardedBytes     prometheus.Counter
	Derivations        prometheus.Counter
	MembershipChanges  *prometheus.CounterVec
}

// New creates an unregistered set of collectors.
func New() *Collectors {
	return &Collectors{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Frames processed by the chunked cipher.",
		}, []string{"direction"}),
		ChecksumMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "checksum_mismatch_total",
			Help:      "Frames whose embedded CRC-32 did not match the recovered chunk.",
		}),
		DegradedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "degraded_frames_total",
			Help:      "Frames decrypted through per-block recovery.",
		}),
		DiscardedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "discarded_bytes_total",
			Help:      "Trailing stream bytes too short to form a frame.",
		}),
		Derivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "derivations_total",
			Help:      "Group keys derived by internal tree nodes.",
		}),
		MembershipChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "membership_changes_total",
			Help:      "Member additions and removals.",
		}, []string{"op"}),
	}
}

// Register registers every collector on r.
func (c *Collectors) Register(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{
		c.Frames, c.ChecksumMismatches, c.DegradedFrames,
		c.DiscardedBytes, c.Derivations, c.MembershipChanges,
	} {
		if err := r.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collectors) FrameEncrypted() {
	if c != nil {
		c.Frames.WithLabelValues("encrypt").Inc()
	}
}

func (c *Collectors) FrameDecrypted() {
	if c != nil {
		c.Frames.WithLabelValues("decrypt").Inc()
	}
}

func (c *Collectors) ChecksumMismatch() {
	if c != nil {
		c.ChecksumMismatches.Inc()
	}
}

func (c *Collectors) Degraded() {
	if c != nil {
		c.DegradedFrames.Inc()
	}
}

func (c *Collectors) Discarded(n int) {
	if c != nil && n > 0 {
		c.DiscardedBytes.Add(float64(n))
	}
}

func (c *Collectors) Derived() {
	if c != nil {
		c.Derivations.Inc()
	}
}

func (c *Collectors) MemberAdded() {
	if c != nil {
		c.MembershipChanges.WithLabelValues("add").Inc()
	}
}

func (c *Collectors) MemberRemoved() {
	if c != nil {
		c.MembershipChanges.WithLabelValues("remove").Inc()
	}
}
