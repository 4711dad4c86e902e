package netgraph

import (
	"fmt"
	"time"

	"p2p-simnet/internal/identity"
)

// LinkInfo holds the simulation parameters of one directed edge.
type LinkInfo struct {
	Latency   time.Duration
	Loss      float64 // probability in [0,1]
	Bandwidth uint64  // bytes per second, 0 means uncapped; advisory
	Active    bool
}

// ActiveLink returns an active, lossless, uncapped link with the given latency.
func ActiveLink(latency time.Duration) LinkInfo {
	return LinkInfo{Latency: latency, Active: true}
}

func (l LinkInfo) String() string {
	return fmt.Sprintf("latency=%s loss=%.3f bw=%d active=%v", l.Latency, l.Loss, l.Bandwidth, l.Active)
}

// LinkKey is an ordered (from, to) pair.
type LinkKey struct {
	From identity.NodeID
	To   identity.NodeID
}

// Reverse returns the opposite direction.
func (k LinkKey) Reverse() LinkKey { return LinkKey{From: k.To, To: k.From} }

func (k LinkKey) String() string {
	return k.From.Short() + "->" + k.To.Short()
}

// Compare orders keys by From, then To.
func (k LinkKey) Compare(other LinkKey) int {
	if c := k.From.Compare(other.From); c != 0 {
		return c
	}
	return k.To.Compare(other.To)
}
