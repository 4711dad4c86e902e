package noisetcp

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"

	"p2p-simnet/internal/crypto/noiseconn"
	"p2p-simnet/internal/identity"
	"p2p-simnet/internal/transport"
)

type session struct {
	remote identity.NodeID
	sc     *noiseconn.Conn
	box    *inbox
	done   chan struct{}
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// inbox holds what one remote sent, across all of its sessions.
type inbox struct {
	mu sync.Mutex
	q  *deque.Deque[[]byte]
}

func newInbox() *inbox { return &inbox{q: deque.New[[]byte]()} }

func (b *inbox) push(msg []byte) {
	b.mu.Lock()
	b.q.PushBack(msg)
	b.mu.Unlock()
}

func (b *inbox) pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.q.Len() == 0 {
		return nil, false
	}
	return b.q.PopFront(), true
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Len()
}

// Conn is a handle on the session with one remote. Several Conns may share a
// session; closing one only closes that handle.
type Conn struct {
	node      *Node
	sess      *session
	connected atomic.Bool
}

func newConn(n *Node, s *session) *Conn {
	c := &Conn{node: n, sess: s}
	c.connected.Store(true)
	return c
}

func (c *Conn) Send(data []byte) error {
	if !c.IsConnected() {
		return transport.ErrConnectionClosed
	}
	if len(data) > c.node.maxMsg {
		return transport.MessageTooLarge(len(data), c.node.maxMsg)
	}
	if err := c.sess.sc.WriteMessage(data); err != nil {
		return transport.NetworkError(err, "send to %s", c.sess.remote.Short())
	}
	return nil
}

// Recv never blocks. Messages that arrived before the session ended can
// still be read.
func (c *Conn) Recv() ([]byte, error) {
	msg, ok := c.sess.box.pop()
	if !ok {
		return nil, transport.ErrNoMessage
	}
	return msg, nil
}

func (c *Conn) Pending() int { return c.sess.box.len() }

// IsConnected is false once the handle is closed or the session has ended.
func (c *Conn) IsConnected() bool { return c.connected.Load() && c.sess.alive() }

func (c *Conn) Close() error {
	c.connected.Store(false)
	return nil
}

func (c *Conn) RemoteNodeID() identity.NodeID { return c.sess.remote }

var _ transport.Conn[identity.NodeID] = (*Conn)(nil)
