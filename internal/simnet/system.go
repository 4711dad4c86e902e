// Package simnet is the deterministic simulator backend: a System per
// simulated peer, all sharing one netgraph.Graph, handing out Conns whose
// Send and Recv act on that graph.
package simnet

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"p2p-simnet/internal/identity"
	"p2p-simnet/internal/netgraph"
	"p2p-simnet/internal/trace"
	"p2p-simnet/internal/transport"
	"p2p-simnet/internal/vclock"
)

// System is one simulated peer. Systems that should reach each other must be
// built over the same Graph and should share a Clock.
type System struct {
	local identity.NodeID
	graph *netgraph.Graph
	cfg   Config
	log   *zap.Logger

	mu    sync.Mutex
	conns map[identity.NodeID]*Conn
}

// New builds the System for local on graph. local is added to the graph.
func New(local identity.NodeID, graph *netgraph.Graph, opts ...Option) *System {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.fillDefaults()

	s := &System{
		local: local,
		graph: graph,
		cfg:   cfg,
		log:   cfg.Logger.Named("simnet").With(zap.Stringer("local", identity.ShortStringer(local))),
		conns: make(map[identity.NodeID]*Conn),
	}
	graph.AddNode(local)
	return s
}

func (s *System) LocalNodeID() identity.NodeID { return s.local }

// Graph returns the shared network state.
func (s *System) Graph() *netgraph.Graph { return s.graph }

// Clock returns the clock used for latency and discovery delay.
func (s *System) Clock() vclock.Clock { return s.cfg.Clock }

// Connect opens a Conn to remote. Both nodes and both queue directions are
// created in the graph if missing; remote must be reachable over active
// links at this moment.
//
// The connection table keeps one Conn per remote. Connecting again to the
// same remote returns a new Conn and replaces the table entry; the previous
// Conn is not closed and keeps working on the same queues.
func (s *System) Connect(remote identity.NodeID) (*Conn, error) {
	s.graph.Lock()
	s.graph.EnsureNodeLocked(s.local)
	s.graph.EnsureNodeLocked(remote)
	s.graph.EnsureQueueLocked(s.local, remote)
	s.graph.EnsureQueueLocked(remote, s.local)
	path, ok := s.graph.FindPathLocked(s.local, remote)
	s.graph.Unlock()
	if !ok {
		s.log.Debug("connect failed: no route", zap.Stringer("remote", identity.ShortStringer(remote)))
		return nil, transport.NoRoute(remote)
	}

	c := newConn(s.local, remote, s.graph, &s.cfg, s.log)

	s.mu.Lock()
	_, replaced := s.conns[remote]
	s.conns[remote] = c
	s.mu.Unlock()

	s.cfg.Recorder.Record(trace.Event{
		At:   vclock.Elapsed(s.cfg.Clock),
		Kind: trace.KindConnect,
		From: s.local,
		To:   remote,
		Path: path,
	})
	s.log.Debug("connected",
		zap.Stringer("remote", identity.ShortStringer(remote)),
		zap.Int("hops", len(path)-1),
		zap.Bool("replaced", replaced))
	return c, nil
}

// Connection returns the table entry for remote.
func (s *System) Connection(remote identity.NodeID) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[remote]
	return c, ok
}

// Connections returns the table entries ordered by remote id.
func (s *System) Connections() []*Conn {
	s.mu.Lock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *Conn) int { return a.remote.Compare(b.remote) })
	return out
}

// Close closes every Conn in the table and empties it.
func (s *System) Close() error {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[identity.NodeID]*Conn)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

var _ transport.Network[identity.NodeID, *Conn] = (*System)(nil)
