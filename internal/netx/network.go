// Package netx is the stream transport under the real network backend.
package netx

import (
	"context"
	"io"
	"time"
)

// Addr is a dialable transport address, "host:port" for TCP.
type Addr string

// Conn is one raw stream between two nodes. Callers exchange length-prefixed
// frames over it with WriteFrame and ReadFrame; nothing above this layer sees
// the byte stream directly. SetDeadline bounds every pending and future Read
// and Write, and the zero time clears it.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() Addr
	LocalAddr() Addr
	SetDeadline(t time.Time) error
}

// Network listens on one local address and dials others. Dial gives up when
// ctx is done. Close stops Accept but leaves accepted Conns to their owners.
type Network interface {
	Listen(bindAddr string) (listenAddr Addr, err error)
	Accept() (Conn, error)
	Dial(ctx context.Context, addr Addr) (Conn, error)
	Close() error
}
