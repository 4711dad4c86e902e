package simnet

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"p2p-simnet/internal/identity"
	"p2p-simnet/internal/netgraph"
	"p2p-simnet/internal/trace"
	"p2p-simnet/internal/transport"
	"p2p-simnet/internal/vclock"
)

// Discovery is a mock name service. Names live in the registry of the node
// they point at, inside the shared graph, so any System on the graph can
// resolve them.

// RegisterPeer records name -> node in node's registry, adding node to the
// graph if needed. Registering an existing name on the same node overwrites.
func (s *System) RegisterPeer(name string, node identity.NodeID) {
	s.graph.Lock()
	s.graph.EnsureNodeLocked(node).SetName(name, node.String())
	s.graph.Unlock()

	s.log.Debug("peer registered", zap.String("name", name), zap.Stringer("node", identity.ShortStringer(node)))
}

// UnregisterPeer removes name from node's registry.
func (s *System) UnregisterPeer(name string, node identity.NodeID) bool {
	s.graph.Lock()
	defer s.graph.Unlock()
	info, ok := s.graph.NodeLocked(node)
	if !ok {
		return false
	}
	return info.DeleteName(name)
}

// Discover waits DiscoveryDelay of virtual time, then scans the graph in
// ascending node order and returns the id stored under name in the first
// registry that holds it.
func (s *System) Discover(name string) (identity.NodeID, error) {
	s.cfg.Clock.Sleep(s.cfg.DiscoveryDelay)

	var (
		value string
		ok    bool
	)
	s.graph.RLock()
	s.graph.EachNodeLocked(func(info *netgraph.NodeInfo) bool {
		value, ok = info.Name(name)
		return !ok
	})
	s.graph.RUnlock()

	ev := trace.Event{
		At:   vclock.Elapsed(s.cfg.Clock),
		Kind: trace.KindDiscoverFailed,
		From: s.local,
		Name: name,
	}
	if !ok {
		s.cfg.Recorder.Record(ev)
		s.log.Debug("discovery failed", zap.String("name", name))
		return identity.NodeID{}, transport.DiscoveryFailed(name)
	}
	found, err := identity.ParseHex(value)
	if err != nil {
		s.cfg.Recorder.Record(ev)
		s.log.Debug("discovery failed", zap.String("name", name), zap.Error(err))
		return identity.NodeID{}, errors.Wrapf(err, "registry entry %q", name)
	}

	ev.Kind, ev.To = trace.KindDiscover, found
	s.cfg.Recorder.Record(ev)
	s.log.Debug("discovered", zap.String("name", name), zap.Stringer("node", identity.ShortStringer(found)))
	return found, nil
}

// ConnectByName is Discover followed by Connect.
func (s *System) ConnectByName(name string) (*Conn, error) {
	return transport.Dial(s.Discover, s.Connect, name)
}
