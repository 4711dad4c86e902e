package netx

import (
	"context"
	"net"
	"sync"
	"time"
)

const DefaultDialTimeout = 5 * time.Second

type tcpNetwork struct {
	dialer net.Dialer

	mu       sync.Mutex
	listener net.Listener
}

type TCPOption func(*tcpNetwork)

// WithDialTimeout bounds Dial when the context has no earlier deadline.
func WithDialTimeout(d time.Duration) TCPOption {
	return func(t *tcpNetwork) { t.dialer.Timeout = d }
}

func NewTCPNetwork(opts ...TCPOption) Network {
	t := &tcpNetwork{dialer: net.Dialer{Timeout: DefaultDialTimeout}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *tcpNetwork) Listen(bindAddr string) (Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return "", ErrAlreadyListening
	}
	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return "", err
	}
	t.listener = l
	return Addr(l.Addr().String()), nil
}

func (t *tcpNetwork) Accept() (Conn, error) {
	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()

	if l == nil {
		return nil, net.ErrClosed
	}
	c, err := l.Accept()
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: c}, nil
}

func (t *tcpNetwork) Dial(ctx context.Context, addr Addr) (Conn, error) {
	c, err := t.dialer.DialContext(ctx, "tcp", string(addr))
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: c}, nil
}

func (t *tcpNetwork) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		err := t.listener.Close()
		t.listener = nil
		return err
	}
	return nil
}

type tcpConn struct {
	net.Conn
}

func (c *tcpConn) RemoteAddr() Addr {
	return Addr(c.Conn.RemoteAddr().String())
}

func (c *tcpConn) LocalAddr() Addr {
	return Addr(c.Conn.LocalAddr().String())
}
