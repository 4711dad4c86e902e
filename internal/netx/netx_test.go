package netx

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("one")))
	require.NoError(t, WriteFrame(&buf, []byte("second frame")))

	p, err := ReadFrame(&buf, 64)
	require.NoError(t, err)
	assert.Equal(t, "one", string(p))
	p, err = ReadFrame(&buf, 64)
	require.NoError(t, err)
	assert.Equal(t, "second frame", string(p))

	_, err = ReadFrame(&buf, 64)
	assert.Equal(t, io.EOF, err)
}

func TestFrame_Limits(t *testing.T) {
	assert.True(t, errors.Is(WriteFrame(io.Discard, nil), ErrEmptyFrame))

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 10)))
	_, err := ReadFrame(&buf, 9)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}), 0)
	assert.True(t, errors.Is(err, ErrEmptyFrame))

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 5, 'a'}), 0)
	assert.Error(t, err)
}

func TestTCPNetwork_DialAccept(t *testing.T) {
	srv := NewTCPNetwork()
	addr, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	_, err = srv.Listen("127.0.0.1:0")
	assert.True(t, errors.Is(err, ErrAlreadyListening))

	accepted := make(chan Conn, 1)
	go func() {
		c, err := srv.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cli, err := NewTCPNetwork(WithDialTimeout(time.Second)).Dial(ctx, addr)
	require.NoError(t, err)
	defer cli.Close()
	assert.Equal(t, addr, cli.RemoteAddr())

	var sc Conn
	select {
	case sc = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}
	defer sc.Close()
	assert.Equal(t, cli.LocalAddr(), sc.RemoteAddr())

	require.NoError(t, WriteFrame(cli, []byte("ping")))
	p, err := ReadFrame(sc, 0)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(p))
}

func TestTCPNetwork_AcceptAfterClose(t *testing.T) {
	n := NewTCPNetwork()
	_, err := n.Accept()
	assert.Error(t, err)
	require.NoError(t, n.Close())
}
