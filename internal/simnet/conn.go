package simnet

import (
	"bytes"
	"sync/atomic"

	"go.uber.org/zap"

	"p2p-simnet/internal/identity"
	"p2p-simnet/internal/netgraph"
	"p2p-simnet/internal/trace"
	"p2p-simnet/internal/transport"
	"p2p-simnet/internal/vclock"
)

// Conn is a virtual channel between two nodes. The message queues live in
// the graph, keyed by node pair, so every Conn between the same two nodes
// sees the same queues.
type Conn struct {
	local  identity.NodeID
	remote identity.NodeID
	graph  *netgraph.Graph
	cfg    *Config
	log    *zap.Logger

	connected atomic.Bool
}

func newConn(local, remote identity.NodeID, graph *netgraph.Graph, cfg *Config, log *zap.Logger) *Conn {
	c := &Conn{
		local:  local,
		remote: remote,
		graph:  graph,
		cfg:    cfg,
		log:    log.With(zap.Stringer("remote", identity.ShortStringer(remote))),
	}
	c.connected.Store(true)
	return c
}

// Send routes data to the remote node. The payload is checked, routed and
// sampled for loss under the graph lock; the lock is then released while the
// clock suspends for the path latency, and re-taken only to enqueue.
//
// A dropped message is not an error. Once the latency suspension has begun
// the message is delivered even if the Conn is closed meanwhile.
func (c *Conn) Send(data []byte) error {
	if !c.connected.Load() {
		return transport.ErrConnectionClosed
	}
	if max := c.cfg.MaxMessageSize; max > 0 && len(data) > max {
		return transport.MessageTooLarge(len(data), max)
	}

	c.graph.Lock()
	path, ok := c.graph.FindPathLocked(c.local, c.remote)
	if !ok {
		c.graph.Unlock()
		return transport.NoRoute(c.remote)
	}
	delay := c.graph.PathLatencyLocked(path)
	if c.cfg.EnforceBandwidth {
		delay += c.graph.TransmitDelayLocked(path, len(data))
	}
	dropAt := c.graph.PathDropLocked(path)
	c.graph.Unlock()

	ev := trace.Event{
		At:     vclock.Elapsed(c.cfg.Clock),
		Kind:   trace.KindSend,
		From:   c.local,
		To:     c.remote,
		Size:   len(data),
		Digest: trace.PayloadDigest(data),
		Path:   path,
	}
	c.cfg.Recorder.Record(ev)

	if dropAt >= 0 {
		c.log.Debug("message dropped",
			zap.Int("size", len(data)),
			zap.Stringer("hop", identity.ShortStringer(path[dropAt])))
		ev.Kind = trace.KindDrop
		ev.Path = path[:dropAt+2]
		c.cfg.Recorder.Record(ev)
		return nil
	}

	msg := bytes.Clone(data)
	if msg == nil {
		msg = []byte{}
	}
	vclock.SleepThen(c.cfg.Clock, delay, func() {
		c.graph.Lock()
		c.graph.PushLocked(c.remote, c.local, msg)
		c.graph.Unlock()

		ev.Kind = trace.KindDeliver
		ev.At = vclock.Elapsed(c.cfg.Clock)
		c.cfg.Recorder.Record(ev)
		c.log.Debug("message delivered", zap.Int("size", len(msg)), zap.Duration("latency", delay))
	})
	return nil
}

// Recv pops the oldest message the remote node sent to the local node. It
// never blocks and returns transport.ErrNoMessage when the queue is empty.
// Messages already queued can still be read after Close.
func (c *Conn) Recv() ([]byte, error) {
	c.graph.Lock()
	msg, ok := c.graph.PopLocked(c.local, c.remote)
	c.graph.Unlock()
	if !ok {
		return nil, transport.ErrNoMessage
	}
	return msg, nil
}

// Pending is the number of messages waiting to be read.
func (c *Conn) Pending() int {
	return c.graph.QueueLen(c.local, c.remote)
}

func (c *Conn) IsConnected() bool { return c.connected.Load() }

// Close marks the Conn closed. It is idempotent, leaves the queues in the
// graph untouched and does not wait for in-flight sends.
func (c *Conn) Close() error {
	if c.connected.CompareAndSwap(true, false) {
		c.log.Debug("connection closed")
	}
	return nil
}

func (c *Conn) RemoteNodeID() identity.NodeID { return c.remote }

func (c *Conn) LocalNodeID() identity.NodeID { return c.local }

var _ transport.Conn[identity.NodeID] = (*Conn)(nil)
