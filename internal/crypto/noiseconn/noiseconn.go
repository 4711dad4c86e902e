// Package noiseconn secures a netx.Conn with a Noise_XX handshake and
// exchanges length-prefixed encrypted messages over it.
package noiseconn

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/flynn/noise"

	"p2p-simnet/internal/netx"
)

const (
	tagSize = 16

	// MaxMessageSize is the largest plaintext one encrypted frame can carry.
	MaxMessageSize = noise.MaxMsgLen - tagSize
)

var ErrMessageTooLarge = errors.New("noiseconn: message too large")

var suite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// GenerateKeypair draws a static Curve25519 key from r, or crypto/rand when
// r is nil.
func GenerateKeypair(r io.Reader) (noise.DHKey, error) {
	if r == nil {
		r = rand.Reader
	}
	return noise.DH25519.GenerateKeypair(r)
}

// KeypairFromSeed derives a static key from 32 bytes of seed material.
func KeypairFromSeed(seed [32]byte) (noise.DHKey, error) {
	return noise.DH25519.GenerateKeypair(bytes.NewReader(seed[:]))
}

// Conn is an established Noise session. Reads and writes may run
// concurrently with each other.
type Conn struct {
	underlying netx.Conn
	remote     []byte

	rmu    sync.Mutex
	readCS *noise.CipherState

	wmu     sync.Mutex
	writeCS *noise.CipherState
}

// Handshake runs Noise_XX over c with the given static key. The caller owns c
// until Handshake returns successfully; on error c is left open.
func Handshake(c netx.Conn, key noise.DHKey, initiator bool) (*Conn, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   suite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: key,
	})
	if err != nil {
		return nil, errors.Wrap(err, "handshake state")
	}

	var cs1, cs2 *noise.CipherState
	if initiator {
		// -> e
		if err := writeHandshake(c, hs); err != nil {
			return nil, err
		}
		// <- e, ee, s, es
		if _, _, err := readHandshake(c, hs); err != nil {
			return nil, err
		}
		// -> s, se
		msg, a, b, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, errors.Wrap(err, "handshake write")
		}
		if err := netx.WriteFrame(c, msg); err != nil {
			return nil, errors.Wrap(err, "handshake send")
		}
		cs1, cs2 = a, b
	} else {
		if _, _, err := readHandshake(c, hs); err != nil {
			return nil, err
		}
		if err := writeHandshake(c, hs); err != nil {
			return nil, err
		}
		a, b, err := readHandshake(c, hs)
		if err != nil {
			return nil, err
		}
		cs1, cs2 = a, b
	}
	if cs1 == nil || cs2 == nil {
		return nil, errors.New("handshake incomplete")
	}

	out := &Conn{
		underlying: c,
		remote:     append([]byte(nil), hs.PeerStatic()...),
	}
	// cs1 encrypts initiator -> responder.
	if initiator {
		out.writeCS, out.readCS = cs1, cs2
	} else {
		out.readCS, out.writeCS = cs1, cs2
	}
	return out, nil
}

// HandshakeContext is Handshake bounded by ctx. The ctx deadline is applied to
// c for the duration of the handshake, and cancelling ctx unblocks any read or
// write in progress. The deadline is cleared again before returning.
func HandshakeContext(ctx context.Context, c netx.Conn, key noise.DHKey, initiator bool) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d, ok := ctx.Deadline(); ok {
		if err := c.SetDeadline(d); err != nil {
			return nil, errors.Wrap(err, "handshake deadline")
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})
	sc, err := Handshake(c, key, initiator)
	stop()
	_ = c.SetDeadline(time.Time{})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, errors.Mark(err, cerr)
		}
		// the conn deadline can fire just ahead of the ctx timer
		if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, errors.Mark(err, context.DeadlineExceeded)
		}
		return nil, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	return sc, nil
}

func writeHandshake(c netx.Conn, hs *noise.HandshakeState) error {
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return errors.Wrap(err, "handshake write")
	}
	return errors.Wrap(netx.WriteFrame(c, msg), "handshake send")
}

func readHandshake(c netx.Conn, hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	msg, err := netx.ReadFrame(c, noise.MaxMsgLen)
	if err != nil {
		return nil, nil, errors.Wrap(err, "handshake recv")
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, msg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "handshake read")
	}
	return cs1, cs2, nil
}

// RemoteStatic is the peer's static public key as proven by the handshake.
func (c *Conn) RemoteStatic() []byte { return append([]byte(nil), c.remote...) }

func (c *Conn) RemoteAddr() netx.Addr { return c.underlying.RemoteAddr() }

// WriteMessage encrypts p into one frame.
func (c *Conn) WriteMessage(p []byte) error {
	if len(p) > MaxMessageSize {
		return errors.Wrapf(ErrMessageTooLarge, "%d > %d", len(p), MaxMessageSize)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	ct, err := c.writeCS.Encrypt(nil, nil, p)
	if err != nil {
		return err
	}
	return netx.WriteFrame(c.underlying, ct)
}

// ReadMessage reads and decrypts one frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	ct, err := netx.ReadFrame(c.underlying, noise.MaxMsgLen)
	if err != nil {
		return nil, err
	}
	pt, err := c.readCS.Decrypt(nil, nil, ct)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt")
	}
	if pt == nil {
		pt = []byte{}
	}
	return pt, nil
}

func (c *Conn) Close() error {
	return c.underlying.Close()
}
