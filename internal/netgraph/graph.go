// Package netgraph models the simulated network topology: nodes, directed
// links with latency and loss, and the per-node queues and registries that
// the simulator reads and writes.
//
// All containers are ordered maps, so every iteration (pathfinding,
// discovery scans, snapshots) visits keys in ascending byte order and is
// reproducible across runs.
package netgraph

import (
	"math"
	"math/bits"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"go.uber.org/zap"

	"p2p-simnet/internal/identity"
)

// Graph is the shared network state. One Graph is shared by every simulated
// peer that should be able to reach the others.
//
// Methods without a Locked suffix take the lock themselves. Locked methods
// expect the caller to hold it (write lock for anything that mutates).
type Graph struct {
	mu  sync.RWMutex
	log *zap.Logger

	seed  int64
	nodes *treemap.Map // identity.NodeID -> *NodeInfo
	links *treemap.Map // identity.NodeID (from) -> *treemap.Map (identity.NodeID (to) -> LinkInfo)

	loss map[LinkKey]*rand.Rand
}

type Option func(*Graph)

// WithSeed sets the seed of the per-link loss streams.
func WithSeed(seed int64) Option {
	return func(g *Graph) { g.seed = seed }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.log = l.Named("graph")
		}
	}
}

func New(opts ...Option) *Graph {
	g := &Graph{
		log:   zap.NewNop(),
		nodes: treemap.NewWith(identity.Comparator),
		links: treemap.NewWith(identity.Comparator),
		loss:  make(map[LinkKey]*rand.Rand),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Seed returns the loss-stream seed.
func (g *Graph) Seed() int64 { return g.seed }

func (g *Graph) Lock()    { g.mu.Lock() }
func (g *Graph) Unlock()  { g.mu.Unlock() }
func (g *Graph) RLock()   { g.mu.RLock() }
func (g *Graph) RUnlock() { g.mu.RUnlock() }

// AddNode inserts id if it is not present yet.
func (g *Graph) AddNode(id identity.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.EnsureNodeLocked(id)
}

// EnsureNodeLocked returns the record for id, inserting an empty one first
// if needed.
func (g *Graph) EnsureNodeLocked(id identity.NodeID) *NodeInfo {
	if v, ok := g.nodes.Get(id); ok {
		return v.(*NodeInfo)
	}
	info := newNodeInfo(id)
	g.nodes.Put(id, info)
	g.log.Debug("node added", zap.Stringer("node", identity.ShortStringer(id)))
	return info
}

// HasNode reports whether id is part of the graph.
func (g *Graph) HasNode(id identity.NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes.Get(id)
	return ok
}

// NodeLocked returns the record for id.
func (g *Graph) NodeLocked(id identity.NodeID) (*NodeInfo, bool) {
	v, ok := g.nodes.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*NodeInfo), true
}

// Node returns the record for id. The caller must hold the lock while using
// the result; prefer the Locked variant inside a critical section.
func (g *Graph) Node(id identity.NodeID) (*NodeInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.NodeLocked(id)
}

// EachNodeLocked calls fn for every node in ascending id order until fn
// returns false.
func (g *Graph) EachNodeLocked(fn func(*NodeInfo) bool) {
	it := g.nodes.Iterator()
	for it.Next() {
		if !fn(it.Value().(*NodeInfo)) {
			return
		}
	}
}

// Nodes returns every node id in ascending order.
func (g *Graph) Nodes() []identity.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]identity.NodeID, 0, g.nodes.Size())
	it := g.nodes.Iterator()
	for it.Next() {
		out = append(out, it.Key().(identity.NodeID))
	}
	return out
}

// ConnectNodes stores link under (a,b) and (b,a), replacing whatever was
// there. Both nodes are created if missing.
func (g *Graph) ConnectNodes(a, b identity.NodeID, link LinkInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectLocked(a, b, link)
	g.log.Debug("link set",
		zap.Stringer("a", identity.ShortStringer(a)),
		zap.Stringer("b", identity.ShortStringer(b)),
		zap.Duration("latency", link.Latency),
		zap.Float64("loss", link.Loss),
		zap.Bool("active", link.Active))
}

func (g *Graph) connectLocked(a, b identity.NodeID, link LinkInfo) {
	g.EnsureNodeLocked(a)
	g.EnsureNodeLocked(b)
	g.putLinkLocked(a, b, link)
	g.putLinkLocked(b, a, link)
}

func (g *Graph) putLinkLocked(from, to identity.NodeID, link LinkInfo) {
	var out *treemap.Map
	if v, ok := g.links.Get(from); ok {
		out = v.(*treemap.Map)
	} else {
		out = treemap.NewWith(identity.Comparator)
		g.links.Put(from, out)
	}
	out.Put(to, link)
}

func (g *Graph) removeLinkLocked(from, to identity.NodeID) bool {
	v, ok := g.links.Get(from)
	if !ok {
		return false
	}
	out := v.(*treemap.Map)
	if _, ok := out.Get(to); !ok {
		return false
	}
	out.Remove(to)
	if out.Empty() {
		g.links.Remove(from)
	}
	return true
}

// LinkLocked returns the link stored under (from, to).
func (g *Graph) LinkLocked(from, to identity.NodeID) (LinkInfo, bool) {
	v, ok := g.links.Get(from)
	if !ok {
		return LinkInfo{}, false
	}
	l, ok := v.(*treemap.Map).Get(to)
	if !ok {
		return LinkInfo{}, false
	}
	return l.(LinkInfo), true
}

// Link returns the link stored under (from, to).
func (g *Graph) Link(from, to identity.NodeID) (LinkInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.LinkLocked(from, to)
}

// Links returns every directed link key in ascending (from, to) order.
func (g *Graph) Links() []LinkKey {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []LinkKey
	it := g.links.Iterator()
	for it.Next() {
		from := it.Key().(identity.NodeID)
		inner := it.Value().(*treemap.Map).Iterator()
		for inner.Next() {
			out = append(out, LinkKey{From: from, To: inner.Key().(identity.NodeID)})
		}
	}
	return out
}

// SetLinkActive flips the active flag of an existing link in both
// directions, keeping its other parameters. It reports whether a link was
// found.
func (g *Graph) SetLinkActive(a, b identity.NodeID, active bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	found := false
	for _, k := range []LinkKey{{From: a, To: b}, {From: b, To: a}} {
		l, ok := g.LinkLocked(k.From, k.To)
		if !ok {
			continue
		}
		l.Active = active
		g.putLinkLocked(k.From, k.To, l)
		found = true
	}
	return found
}

// eachNeighborLocked visits the outgoing links of from in ascending
// destination order until fn returns false.
func (g *Graph) eachNeighborLocked(from identity.NodeID, fn func(to identity.NodeID, link LinkInfo) bool) {
	v, ok := g.links.Get(from)
	if !ok {
		return
	}
	it := v.(*treemap.Map).Iterator()
	for it.Next() {
		if !fn(it.Key().(identity.NodeID), it.Value().(LinkInfo)) {
			return
		}
	}
}

// PathLatencyLocked sums the latency of every hop of path.
func (g *Graph) PathLatencyLocked(path []identity.NodeID) time.Duration {
	var total time.Duration
	for i := 1; i < len(path); i++ {
		if l, ok := g.LinkLocked(path[i-1], path[i]); ok {
			total += l.Latency
		}
	}
	return total
}

// TransmitDelayLocked returns the serialization delay of size bytes on the
// narrowest bandwidth-capped hop of path. Uncapped paths cost nothing.
func (g *Graph) TransmitDelayLocked(path []identity.NodeID, size int) time.Duration {
	var worst time.Duration
	for i := 1; i < len(path); i++ {
		l, ok := g.LinkLocked(path[i-1], path[i])
		if !ok || l.Bandwidth == 0 {
			continue
		}
		if d := transmitDelay(size, l.Bandwidth); d > worst {
			worst = d
		}
	}
	return worst
}

// transmitDelay is size*1s/bandwidth computed in 128 bits, saturating at the
// largest Duration.
func transmitDelay(size int, bandwidth uint64) time.Duration {
	if size <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(size), uint64(time.Second))
	if hi >= bandwidth {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, bandwidth)
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(q)
}

// EnsureQueueLocked makes sure owner has an inbound queue for sender.
func (g *Graph) EnsureQueueLocked(owner, sender identity.NodeID) {
	g.EnsureNodeLocked(owner).EnsureQueue(sender)
}

// PushLocked appends msg to owner's queue from sender.
func (g *Graph) PushLocked(owner, sender identity.NodeID, msg []byte) {
	g.EnsureNodeLocked(owner).EnsureQueue(sender).PushBack(msg)
}

// PopLocked removes the oldest message from owner's queue from sender.
func (g *Graph) PopLocked(owner, sender identity.NodeID) ([]byte, bool) {
	info, ok := g.NodeLocked(owner)
	if !ok {
		return nil, false
	}
	q, ok := info.Queue(sender)
	if !ok || q.Len() == 0 {
		return nil, false
	}
	return q.PopFront(), true
}

// QueueLen returns the number of queued messages on owner from sender.
func (g *Graph) QueueLen(owner, sender identity.NodeID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	info, ok := g.NodeLocked(owner)
	if !ok {
		return 0
	}
	return info.QueueLen(sender)
}
