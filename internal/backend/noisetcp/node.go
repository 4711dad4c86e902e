// Package noisetcp implements the transport contract over TCP secured with
// Noise_XX. A node's id is its Noise static public key, so connecting to an
// id proves the peer holds the matching private key.
package noisetcp

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/flynn/noise"
	"go.uber.org/zap"

	"p2p-simnet/internal/crypto/noiseconn"
	"p2p-simnet/internal/identity"
	"p2p-simnet/internal/netx"
	"p2p-simnet/internal/transport"
)

const (
	DefaultDialTimeout      = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

type Option func(*Node)

func WithLogger(l *zap.Logger) Option {
	return func(n *Node) { n.log = l }
}

func WithNetwork(net netx.Network) Option {
	return func(n *Node) { n.net = net }
}

func WithDialTimeout(d time.Duration) Option {
	return func(n *Node) { n.dialTimeout = d }
}

// WithHandshakeTimeout bounds the Noise handshake on every session, inbound
// and outbound.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(n *Node) { n.handshakeTimeout = d }
}

// WithMaxMessageSize lowers the payload limit. It is capped at
// noiseconn.MaxMessageSize.
func WithMaxMessageSize(size int) Option {
	return func(n *Node) { n.maxMsg = min(size, noiseconn.MaxMessageSize) }
}

// Node is one real peer. It listens for inbound sessions, dials outbound
// ones from its address book and keeps one session per remote id.
type Node struct {
	key              noise.DHKey
	id               identity.NodeID
	net              netx.Network
	log              *zap.Logger
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
	maxMsg           int

	// ctx is cancelled by Close and aborts handshakes still in flight.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	addr     netx.Addr
	book     map[identity.NodeID]netx.Addr
	names    map[string]identity.NodeID
	sessions map[identity.NodeID]*session
	inboxes  map[identity.NodeID]*inbox
	closed   bool

	wg sync.WaitGroup
}

// New builds a Node for the static key. The key's public half is the NodeID.
func New(key noise.DHKey, opts ...Option) (*Node, error) {
	id, err := identity.FromBytes(key.Public)
	if err != nil {
		return nil, errors.Wrap(err, "static public key")
	}
	n := &Node{
		key:              key,
		id:               id,
		log:              zap.NewNop(),
		dialTimeout:      DefaultDialTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		maxMsg:           noiseconn.MaxMessageSize,
		book:             make(map[identity.NodeID]netx.Addr),
		names:            make(map[string]identity.NodeID),
		sessions:         make(map[identity.NodeID]*session),
		inboxes:          make(map[identity.NodeID]*inbox),
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(n)
	}
	if n.net == nil {
		n.net = netx.NewTCPNetwork(netx.WithDialTimeout(n.dialTimeout))
	}
	n.log = n.log.Named("noisetcp").With(zap.Stringer("local", identity.ShortStringer(id)))
	return n, nil
}

func (n *Node) LocalNodeID() identity.NodeID { return n.id }

// Listen binds the node and starts accepting sessions.
func (n *Node) Listen(bindAddr string) (netx.Addr, error) {
	addr, err := n.net.Listen(bindAddr)
	if err != nil {
		return "", transport.NetworkError(err, "listen %s", bindAddr)
	}
	n.mu.Lock()
	n.addr = addr
	n.mu.Unlock()

	n.wg.Add(1)
	go n.acceptLoop()
	n.log.Info("listening", zap.String("addr", string(addr)))
	return addr, nil
}

// Addr is the listen address, empty before Listen.
func (n *Node) Addr() netx.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr
}

// AddAddress records where remote can be dialed.
func (n *Node) AddAddress(remote identity.NodeID, addr netx.Addr) {
	n.mu.Lock()
	n.book[remote] = addr
	n.mu.Unlock()
}

// Peers lists remotes with a live session, in id order.
func (n *Node) Peers() []identity.NodeID {
	n.mu.Lock()
	out := make([]identity.NodeID, 0, len(n.sessions))
	for id, s := range n.sessions {
		if s.alive() {
			out = append(out, id)
		}
	}
	n.mu.Unlock()
	slices.SortFunc(out, identity.NodeID.Compare)
	return out
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		c, err := n.net.Accept()
		if err != nil {
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if !closed {
				n.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		n.mu.Lock()
		if n.closed {
			n.mu.Unlock()
			_ = c.Close()
			return
		}
		n.wg.Add(1)
		n.mu.Unlock()
		go func() {
			defer n.wg.Done()
			n.handleInbound(c)
		}()
	}
}

func (n *Node) handleInbound(c netx.Conn) {
	ctx, cancel := context.WithTimeout(n.ctx, n.handshakeTimeout)
	sc, err := noiseconn.HandshakeContext(ctx, c, n.key, false)
	cancel()
	if err != nil {
		n.log.Debug("inbound handshake failed", zap.String("addr", string(c.RemoteAddr())), zap.Error(err))
		_ = c.Close()
		return
	}
	remote, err := identity.FromBytes(sc.RemoteStatic())
	if err != nil {
		_ = sc.Close()
		return
	}
	if _, err := n.adopt(remote, sc); err != nil {
		_ = sc.Close()
	}
}

// Connect returns a Conn to remote, reusing a live session in either
// direction or dialing the address book entry.
func (n *Node) Connect(remote identity.NodeID) (*Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.dialTimeout)
	defer cancel()
	return n.ConnectContext(ctx, remote)
}

func (n *Node) ConnectContext(ctx context.Context, remote identity.NodeID) (*Conn, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, transport.ErrConnectionClosed
	}
	if s, ok := n.sessions[remote]; ok && s.alive() {
		n.mu.Unlock()
		return newConn(n, s), nil
	}
	addr, ok := n.book[remote]
	n.mu.Unlock()
	if !ok {
		return nil, transport.NoRoute(remote)
	}

	c, err := n.net.Dial(ctx, addr)
	if err != nil {
		return nil, transport.NetworkError(err, "dial %s", addr)
	}
	sc, err := n.dialHandshake(ctx, c)
	if err != nil {
		_ = c.Close()
		return nil, transport.NetworkError(err, "handshake with %s", addr)
	}
	got, err := identity.FromBytes(sc.RemoteStatic())
	if err != nil || got != remote {
		_ = sc.Close()
		return nil, transport.NetworkError(
			errors.Newf("peer at %s is %s, want %s", addr, got.Short(), remote.Short()),
			"verify remote key")
	}

	s, err := n.adopt(remote, sc)
	if errors.Is(err, errSessionExists) {
		// an inbound session from remote won the race
		_ = sc.Close()
		return newConn(n, s), nil
	}
	if err != nil {
		_ = sc.Close()
		return nil, err
	}
	n.log.Debug("connected", zap.Stringer("remote", identity.ShortStringer(remote)), zap.String("addr", string(addr)))
	return newConn(n, s), nil
}

// dialHandshake runs the initiator side under ctx, the handshake timeout and
// the node's lifetime, whichever ends first.
func (n *Node) dialHandshake(ctx context.Context, c netx.Conn) (*noiseconn.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, n.handshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(n.ctx, cancel)
	defer stop()
	return noiseconn.HandshakeContext(ctx, c, n.key, true)
}

// adopt installs sc as the session for remote and starts its read loop. A
// live session already present is kept and the new one is refused.
func (n *Node) adopt(remote identity.NodeID, sc *noiseconn.Conn) (*session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, transport.ErrConnectionClosed
	}
	if s, ok := n.sessions[remote]; ok && s.alive() {
		return s, errSessionExists
	}
	s := &session{remote: remote, sc: sc, box: n.inboxLocked(remote), done: make(chan struct{})}
	n.sessions[remote] = s

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.readLoop(s)
	}()
	return s, nil
}

var errSessionExists = errors.New("session already established")

func (n *Node) inboxLocked(remote identity.NodeID) *inbox {
	b, ok := n.inboxes[remote]
	if !ok {
		b = newInbox()
		n.inboxes[remote] = b
	}
	return b
}

func (n *Node) readLoop(s *session) {
	defer close(s.done)
	for {
		msg, err := s.sc.ReadMessage()
		if err != nil {
			n.mu.Lock()
			closed := n.closed
			if n.sessions[s.remote] == s {
				delete(n.sessions, s.remote)
			}
			n.mu.Unlock()
			if !closed {
				n.log.Debug("session ended", zap.Stringer("remote", identity.ShortStringer(s.remote)), zap.Error(err))
			}
			_ = s.sc.Close()
			return
		}
		s.box.push(msg)
	}
}

// RegisterPeer records name -> node in the local registry.
func (n *Node) RegisterPeer(name string, node identity.NodeID) {
	n.mu.Lock()
	n.names[name] = node
	n.mu.Unlock()
}

// Discover looks name up in the local registry.
func (n *Node) Discover(name string) (identity.NodeID, error) {
	n.mu.Lock()
	id, ok := n.names[name]
	n.mu.Unlock()
	if !ok {
		return identity.NodeID{}, transport.DiscoveryFailed(name)
	}
	return id, nil
}

func (n *Node) ConnectByName(name string) (*Conn, error) {
	return transport.Dial(n.Discover, n.Connect, name)
}

// Close stops listening, ends every session and waits for the node's
// goroutines.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	sessions := make([]*session, 0, len(n.sessions))
	for _, s := range n.sessions {
		sessions = append(sessions, s)
	}
	n.mu.Unlock()

	n.cancel()
	err := n.net.Close()
	for _, s := range sessions {
		_ = s.sc.Close()
	}
	n.wg.Wait()
	return err
}

var _ transport.Network[identity.NodeID, *Conn] = (*Node)(nil)
