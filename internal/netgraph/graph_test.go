package netgraph

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"p2p-simnet/internal/identity"
)

func ids(seeds ...string) []identity.NodeID {
	out := make([]identity.NodeID, len(seeds))
	for i, s := range seeds {
		out[i] = identity.FromSeed(s)
	}
	return out
}

func TestAddNode_Idempotent(t *testing.T) {
	g := New(WithLogger(zaptest.NewLogger(t)))
	a := identity.FromSeed("a")

	g.AddNode(a)
	g.Lock()
	g.PushLocked(a, a, []byte("keep"))
	g.Unlock()
	g.AddNode(a)

	assert.Equal(t, []identity.NodeID{a}, g.Nodes())
	assert.Equal(t, 1, g.QueueLen(a, a), "re-adding must not reset node state")
}

func TestConnectNodes_SymmetricAndLastWriteWins(t *testing.T) {
	g := New()
	n := ids("a", "b")
	a, b := n[0], n[1]

	g.ConnectNodes(a, b, ActiveLink(10*time.Millisecond))
	ab, ok := g.Link(a, b)
	require.True(t, ok)
	ba, ok := g.Link(b, a)
	require.True(t, ok)
	assert.Equal(t, ab, ba)
	assert.True(t, g.HasNode(a))
	assert.True(t, g.HasNode(b))

	g.ConnectNodes(b, a, LinkInfo{Latency: 3 * time.Millisecond, Loss: 0.5, Active: true})
	ab, _ = g.Link(a, b)
	assert.Equal(t, 3*time.Millisecond, ab.Latency)
	assert.Equal(t, 0.5, ab.Loss)
	assert.Len(t, g.Links(), 2)
}

func TestLinks_SortedOrder(t *testing.T) {
	g := New()
	n := ids("a", "b", "c", "d")
	g.ConnectNodes(n[3], n[0], ActiveLink(time.Millisecond))
	g.ConnectNodes(n[1], n[2], ActiveLink(time.Millisecond))
	g.ConnectNodes(n[0], n[2], ActiveLink(time.Millisecond))

	keys := g.Links()
	require.Len(t, keys, 6)
	for i := 1; i < len(keys); i++ {
		assert.Negative(t, keys[i-1].Compare(keys[i]), "links not sorted at %d", i)
	}
}

func TestFindPath_Trivial(t *testing.T) {
	g := New()
	a := identity.FromSeed("a")
	path, ok := g.FindPath(a, a)
	require.True(t, ok)
	assert.Equal(t, []identity.NodeID{a}, path)
}

func TestFindPath_UnknownNodes(t *testing.T) {
	g := New()
	n := ids("a", "b")
	_, ok := g.FindPath(n[0], n[1])
	assert.False(t, ok)
}

func TestFindPath_ShortestAndInactive(t *testing.T) {
	g := New()
	n := ids("a", "b", "c", "d")
	a, b, c, d := n[0], n[1], n[2], n[3]

	// a-b-c-d chain plus a shortcut a-d that is inactive.
	g.ConnectNodes(a, b, ActiveLink(time.Millisecond))
	g.ConnectNodes(b, c, ActiveLink(time.Millisecond))
	g.ConnectNodes(c, d, ActiveLink(time.Millisecond))
	g.ConnectNodes(a, d, LinkInfo{Latency: time.Millisecond, Active: false})

	path, ok := g.FindPath(a, d)
	require.True(t, ok)
	assert.Equal(t, []identity.NodeID{a, b, c, d}, path)

	require.True(t, g.SetLinkActive(a, d, true))
	path, ok = g.FindPath(a, d)
	require.True(t, ok)
	assert.Equal(t, []identity.NodeID{a, d}, path)

	require.True(t, g.SetLinkActive(b, c, false))
	require.True(t, g.SetLinkActive(a, d, false))
	_, ok = g.FindPath(a, d)
	assert.False(t, ok)

	// Inactive links keep their metadata.
	l, ok := g.Link(b, c)
	require.True(t, ok)
	assert.False(t, l.Active)
	assert.Equal(t, time.Millisecond, l.Latency)

	assert.False(t, g.SetLinkActive(a, c, true))
}

func TestFindPath_TieBreakIsStable(t *testing.T) {
	n := ids("A", "B1", "B2", "C")
	a, b1, b2, c := n[0], n[1], n[2], n[3]
	want := b1
	if b2.Less(b1) {
		want = b2
	}

	build := func(reverse bool) *Graph {
		g := New()
		edges := [][2]identity.NodeID{{a, b1}, {a, b2}, {b1, c}, {b2, c}}
		if reverse {
			for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
				edges[i], edges[j] = edges[j], edges[i]
			}
		}
		for _, e := range edges {
			g.ConnectNodes(e[0], e[1], ActiveLink(5*time.Millisecond))
		}
		return g
	}

	for run := 0; run < 20; run++ {
		g := build(run%2 == 1)
		path, ok := g.FindPath(a, c)
		require.True(t, ok)
		assert.Equal(t, []identity.NodeID{a, want, c}, path, "run %d", run)
	}
}

func TestPartitionAndHeal(t *testing.T) {
	g := New()
	n := ids("a1", "a2", "b1", "b2")
	a1, a2, b1, b2 := n[0], n[1], n[2], n[3]
	link := ActiveLink(2 * time.Millisecond)

	g.ConnectNodes(a1, a2, link)
	g.ConnectNodes(b1, b2, link)
	g.ConnectNodes(a1, b1, link)
	g.ConnectNodes(a2, b2, link)

	groupA := []identity.NodeID{a1, a2}
	groupB := []identity.NodeID{b1, b2}

	assert.Equal(t, 4, g.AddPartition(groupA, groupB))
	for _, x := range groupA {
		for _, y := range groupB {
			_, ok := g.FindPath(x, y)
			assert.False(t, ok, "%s -> %s should be partitioned", x.Short(), y.Short())
			_, ok = g.Link(y, x)
			assert.False(t, ok)
		}
	}
	// intra-group links survive
	assert.True(t, g.Reachable(a1, a2))
	assert.True(t, g.Reachable(b2, b1))

	// partitioning again is a no-op
	assert.Equal(t, 0, g.AddPartition(groupA, groupB))

	healLink := ActiveLink(7 * time.Millisecond)
	assert.Equal(t, 4, g.HealPartition(groupA, groupB, healLink))
	for _, x := range groupA {
		for _, y := range groupB {
			path, ok := g.FindPath(x, y)
			require.True(t, ok)
			assert.Len(t, path, 2)
			l, _ := g.Link(y, x)
			assert.Equal(t, healLink, l)
		}
	}
}

func TestHealPartition_SkipsUnknownNodes(t *testing.T) {
	g := New()
	n := ids("known", "ghost")
	g.AddNode(n[0])

	assert.Equal(t, 0, g.HealPartition([]identity.NodeID{n[0]}, []identity.NodeID{n[1]}, ActiveLink(time.Millisecond)))
	assert.False(t, g.HasNode(n[1]))
	assert.Empty(t, g.Links())
}

func TestPathLatencyAndTransmitDelay(t *testing.T) {
	g := New()
	n := ids("a", "b", "c")
	g.ConnectNodes(n[0], n[1], LinkInfo{Latency: 10 * time.Millisecond, Bandwidth: 1000, Active: true})
	g.ConnectNodes(n[1], n[2], LinkInfo{Latency: 15 * time.Millisecond, Bandwidth: 500, Active: true})

	path, ok := g.FindPath(n[0], n[2])
	require.True(t, ok)

	g.RLock()
	defer g.RUnlock()
	assert.Equal(t, 25*time.Millisecond, g.PathLatencyLocked(path))
	assert.Equal(t, 2*time.Second, g.TransmitDelayLocked(path, 1000))
	assert.Equal(t, time.Duration(0), g.TransmitDelayLocked(path[:1], 1000))
}

func TestTransmitDelay_LargePayloads(t *testing.T) {
	g := New()
	n := ids("a", "b")
	g.ConnectNodes(n[0], n[1], LinkInfo{Bandwidth: 1_000_000_000, Active: true})
	path := []identity.NodeID{n[0], n[1]}

	g.RLock()
	defer g.RUnlock()
	// 20 GB at 1 GB/s: size*1s alone does not fit in 64 bits
	assert.Equal(t, 20*time.Second, g.TransmitDelayLocked(path, 20_000_000_000))
	assert.Equal(t, time.Duration(0), g.TransmitDelayLocked(path, 0))

	assert.Equal(t, time.Duration(1), transmitDelay(1, 1_000_000_000))
	assert.Equal(t, time.Duration(math.MaxInt64), transmitDelay(math.MaxInt, 1))
}

func TestQueues_FIFOPerSender(t *testing.T) {
	g := New()
	n := ids("owner", "s1", "s2")
	owner, s1, s2 := n[0], n[1], n[2]

	g.Lock()
	g.EnsureQueueLocked(owner, s1)
	g.PushLocked(owner, s1, []byte("1"))
	g.PushLocked(owner, s2, []byte("x"))
	g.PushLocked(owner, s1, []byte("2"))
	g.Unlock()

	assert.Equal(t, 2, g.QueueLen(owner, s1))
	assert.Equal(t, 1, g.QueueLen(owner, s2))

	g.Lock()
	defer g.Unlock()
	m, ok := g.PopLocked(owner, s1)
	require.True(t, ok)
	assert.Equal(t, "1", string(m))
	m, ok = g.PopLocked(owner, s1)
	require.True(t, ok)
	assert.Equal(t, "2", string(m))
	_, ok = g.PopLocked(owner, s1)
	assert.False(t, ok)

	_, ok = g.PopLocked(identity.FromSeed("nobody"), s1)
	assert.False(t, ok)

	info, ok := g.NodeLocked(owner)
	require.True(t, ok)
	want := []identity.NodeID{s1, s2}
	if s2.Less(s1) {
		want = []identity.NodeID{s2, s1}
	}
	assert.Equal(t, want, info.Senders())
}

func TestNodeInfo_Registry(t *testing.T) {
	g := New()
	a := identity.FromSeed("a")

	g.Lock()
	defer g.Unlock()
	info := g.EnsureNodeLocked(a)
	info.SetName("zeta", "1")
	info.SetName("alpha", "2")
	info.SetName("alpha", "3")

	v, ok := info.Name("alpha")
	require.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Equal(t, []string{"alpha", "zeta"}, info.Names())

	assert.True(t, info.DeleteName("zeta"))
	assert.False(t, info.DeleteName("zeta"))
	_, ok = info.Name("zeta")
	assert.False(t, ok)
}
