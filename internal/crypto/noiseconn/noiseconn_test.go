package noiseconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2p-simnet/internal/netx"
)

type pipeConn struct {
	net.Conn
	name string
}

func (p pipeConn) RemoteAddr() netx.Addr { return netx.Addr("pipe:" + p.name) }
func (p pipeConn) LocalAddr() netx.Addr  { return netx.Addr("pipe:local") }

func keypair(t *testing.T, b byte) noise.DHKey {
	t.Helper()
	var seed [32]byte
	for i := range seed {
		seed[i] = b
	}
	k, err := KeypairFromSeed(seed)
	require.NoError(t, err)
	return k
}

type handshakeResult struct {
	conn *Conn
	err  error
}

func handshakePair(t *testing.T, ik, rk noise.DHKey) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ch := make(chan handshakeResult, 1)
	go func() {
		c, err := Handshake(pipeConn{Conn: b, name: "initiator"}, rk, false)
		ch <- handshakeResult{c, err}
	}()
	ic, err := Handshake(pipeConn{Conn: a, name: "responder"}, ik, true)
	require.NoError(t, err)
	res := <-ch
	require.NoError(t, res.err)
	t.Cleanup(func() {
		_ = ic.Close()
		_ = res.conn.Close()
	})
	return ic, res.conn
}

func TestKeypairFromSeed_Deterministic(t *testing.T) {
	assert.Equal(t, keypair(t, 1), keypair(t, 1))
	assert.NotEqual(t, keypair(t, 1).Public, keypair(t, 2).Public)

	k, err := GenerateKeypair(nil)
	require.NoError(t, err)
	assert.Len(t, k.Public, 32)
}

func TestHandshake_MutualStatic(t *testing.T) {
	ik, rk := keypair(t, 1), keypair(t, 2)
	ic, rc := handshakePair(t, ik, rk)

	assert.Equal(t, rk.Public, ic.RemoteStatic())
	assert.Equal(t, ik.Public, rc.RemoteStatic())
	assert.Equal(t, netx.Addr("pipe:responder"), ic.RemoteAddr())
}

func TestMessages_BothDirections(t *testing.T) {
	ic, rc := handshakePair(t, keypair(t, 3), keypair(t, 4))

	go func() { _ = ic.WriteMessage([]byte("hello responder")) }()
	got, err := rc.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello responder", string(got))

	go func() { _ = rc.WriteMessage(nil) }()
	got, err = ic.ReadMessage()
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestWriteMessage_TooLarge(t *testing.T) {
	ic, _ := handshakePair(t, keypair(t, 5), keypair(t, 6))
	err := ic.WriteMessage(make([]byte, MaxMessageSize+1))
	assert.True(t, errors.Is(err, ErrMessageTooLarge))
}

func TestHandshake_PeerHangsUp(t *testing.T) {
	a, b := net.Pipe()
	go func() {
		_, _ = netx.ReadFrame(b, 0)
		_ = b.Close()
	}()
	_, err := Handshake(pipeConn{Conn: a, name: "x"}, keypair(t, 7), true)
	assert.Error(t, err)
}

func TestHandshakeContext_SilentPeerTimesOut(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := HandshakeContext(ctx, pipeConn{Conn: a, name: "silent"}, keypair(t, 8), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandshakeContext_CancelUnblocks(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res := make(chan error, 1)
	go func() {
		_, err := HandshakeContext(ctx, pipeConn{Conn: a, name: "silent"}, keypair(t, 9), true)
		res <- err
	}()
	select {
	case err := <-res:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("handshake did not return after cancel")
	}
}

func TestHandshakeContext_ClearsDeadline(t *testing.T) {
	a, b := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ch := make(chan handshakeResult, 1)
	go func() {
		c, err := HandshakeContext(ctx, pipeConn{Conn: b, name: "initiator"}, keypair(t, 11), false)
		ch <- handshakeResult{c, err}
	}()
	ic, err := HandshakeContext(ctx, pipeConn{Conn: a, name: "responder"}, keypair(t, 10), true)
	require.NoError(t, err)
	res := <-ch
	require.NoError(t, res.err)
	defer ic.Close()
	defer res.conn.Close()

	// past the handshake deadline the session still carries messages
	time.Sleep(300 * time.Millisecond)
	go func() { _ = ic.WriteMessage([]byte("late")) }()
	got, err := res.conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "late", string(got))
}
