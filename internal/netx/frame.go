package netx

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

var (
	ErrAlreadyListening = errors.New("netx: already listening")
	ErrFrameTooLarge    = errors.New("netx: frame too large")
	ErrEmptyFrame       = errors.New("netx: empty frame")
)

// WriteFrame writes p with a 4-byte big-endian length prefix in a single
// Write call.
func WriteFrame(w io.Writer, p []byte) error {
	if len(p) == 0 {
		return ErrEmptyFrame
	}
	buf := make([]byte, 4+len(p))
	binary.BigEndian.PutUint32(buf, uint32(len(p)))
	copy(buf[4:], p)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame written by WriteFrame. Frames longer than max
// are rejected before their body is read.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if max > 0 && int64(n) > int64(max) {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d > %d", n, max)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, errors.Wrap(err, "frame body")
	}
	return p, nil
}
