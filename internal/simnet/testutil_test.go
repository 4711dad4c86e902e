package simnet

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"p2p-simnet/internal/identity"
	"p2p-simnet/internal/netgraph"
	"p2p-simnet/internal/trace"
	"p2p-simnet/internal/vclock"
)

// testNet is one simulated network: a graph, a clock and a recorder shared by
// every System created through it.
type testNet struct {
	t     *testing.T
	graph *netgraph.Graph
	clock vclock.Clock
	rec   *trace.Memory
	opts  []Option
}

type netOpt func(*testNet)

func withClock(c vclock.Clock) netOpt {
	return func(n *testNet) { n.clock = c }
}

func withSeed(seed int64) netOpt {
	return func(n *testNet) { n.graph = netgraph.New(netgraph.WithSeed(seed)) }
}

func withSystemOpts(opts ...Option) netOpt {
	return func(n *testNet) { n.opts = append(n.opts, opts...) }
}

func newTestNet(t *testing.T, opts ...netOpt) *testNet {
	t.Helper()
	n := &testNet{
		t:     t,
		graph: netgraph.New(),
		clock: vclock.NewStepping(),
		rec:   trace.NewMemory(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// system builds the System for the node derived from seed.
func (n *testNet) system(seed string) *System {
	n.t.Helper()
	opts := append([]Option{
		WithClock(n.clock),
		WithRecorder(n.rec),
		WithLogger(zaptest.NewLogger(n.t)),
	}, n.opts...)
	return New(identity.FromSeed(seed), n.graph, opts...)
}

func (n *testNet) link(a, b string, latency time.Duration) {
	n.graph.ConnectNodes(identity.FromSeed(a), identity.FromSeed(b), netgraph.ActiveLink(latency))
}

func (n *testNet) lossyLink(a, b string, latency time.Duration, loss float64) {
	n.graph.ConnectNodes(identity.FromSeed(a), identity.FromSeed(b), netgraph.LinkInfo{
		Latency: latency,
		Loss:    loss,
		Active:  true,
	})
}

func mustConnect(t *testing.T, s *System, remote string) *Conn {
	t.Helper()
	c, err := s.Connect(identity.FromSeed(remote))
	if err != nil {
		t.Fatalf("%s.Connect(%s) error: %v", s.LocalNodeID().Short(), remote, err)
	}
	return c
}

func mustSend(t *testing.T, c *Conn, msg string) {
	t.Helper()
	if err := c.Send([]byte(msg)); err != nil {
		t.Fatalf("Send(%q) error: %v", msg, err)
	}
}

// drain reads every queued message as strings.
func drain(t *testing.T, c *Conn) []string {
	t.Helper()
	var out []string
	for {
		m, err := c.Recv()
		if err != nil {
			return out
		}
		out = append(out, string(m))
	}
}

// waitDone fails the test if ch is not closed within a second of real time.
// It guards tests that would otherwise hang on a held lock.
func waitDone(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
