package netgraph

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/gammazero/deque"

	"p2p-simnet/internal/identity"
)

// NodeInfo is the per-node simulation state: the discovery registry and the
// inbound message queues keyed by sender.
//
// A *NodeInfo handed out by the Graph is only safe to use while the graph
// lock is held.
type NodeInfo struct {
	ID     identity.NodeID
	Online bool // reserved

	names  *treemap.Map // string -> string (stringified NodeID)
	queues *treemap.Map // identity.NodeID -> *deque.Deque[[]byte]
}

func newNodeInfo(id identity.NodeID) *NodeInfo {
	return &NodeInfo{
		ID:     id,
		Online: true,
		names:  treemap.NewWith(utils.StringComparator),
		queues: treemap.NewWith(identity.Comparator),
	}
}

// SetName writes name -> value into the registry, replacing any prior value.
func (n *NodeInfo) SetName(name, value string) {
	n.names.Put(name, value)
}

// Name looks up a registry entry.
func (n *NodeInfo) Name(name string) (string, bool) {
	v, ok := n.names.Get(name)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// DeleteName removes a registry entry and reports whether it existed.
func (n *NodeInfo) DeleteName(name string) bool {
	if _, ok := n.names.Get(name); !ok {
		return false
	}
	n.names.Remove(name)
	return true
}

// Names returns the registered names in ascending order.
func (n *NodeInfo) Names() []string {
	out := make([]string, 0, n.names.Size())
	it := n.names.Iterator()
	for it.Next() {
		out = append(out, it.Key().(string))
	}
	return out
}

// EnsureQueue returns the inbound queue for messages from sender, creating
// an empty one if needed. Existing contents are never touched.
func (n *NodeInfo) EnsureQueue(sender identity.NodeID) *deque.Deque[[]byte] {
	if q, ok := n.queues.Get(sender); ok {
		return q.(*deque.Deque[[]byte])
	}
	q := deque.New[[]byte]()
	n.queues.Put(sender, q)
	return q
}

// Queue returns the inbound queue for sender if it exists.
func (n *NodeInfo) Queue(sender identity.NodeID) (*deque.Deque[[]byte], bool) {
	q, ok := n.queues.Get(sender)
	if !ok {
		return nil, false
	}
	return q.(*deque.Deque[[]byte]), true
}

// QueueLen is the number of undelivered messages from sender.
func (n *NodeInfo) QueueLen(sender identity.NodeID) int {
	q, ok := n.Queue(sender)
	if !ok {
		return 0
	}
	return q.Len()
}

// Senders lists every node with a queue on this node, in ascending id order.
func (n *NodeInfo) Senders() []identity.NodeID {
	out := make([]identity.NodeID, 0, n.queues.Size())
	it := n.queues.Iterator()
	for it.Next() {
		out = append(out, it.Key().(identity.NodeID))
	}
	return out
}
