package netgraph

import (
	"encoding/binary"
	"math/rand/v2"

	"golang.org/x/crypto/blake2b"

	"p2p-simnet/internal/identity"
)

// Every directed link has its own PCG stream seeded from
// BLAKE2b(seed || from || to). Streams are keyed by the node pair, so they
// survive partition, heal and link overwrites, and the drop sequence of one
// link does not depend on traffic over any other link.

func (g *Graph) streamLocked(k LinkKey) *rand.Rand {
	if r, ok := g.loss[k]; ok {
		return r
	}
	var buf [8 + 2*identity.Size]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(g.seed))
	copy(buf[8:], k.From[:])
	copy(buf[8+identity.Size:], k.To[:])
	sum := blake2b.Sum256(buf[:])

	r := rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(sum[0:8]),
		binary.BigEndian.Uint64(sum[8:16]),
	))
	g.loss[k] = r
	return r
}

// DropLocked draws the loss decision for one message over from -> to. A loss
// of 0 never drops and 1 always drops; neither consumes randomness. Missing
// links count as lossless. Requires the write lock.
func (g *Graph) DropLocked(from, to identity.NodeID) bool {
	l, ok := g.LinkLocked(from, to)
	if !ok {
		return false
	}
	switch {
	case l.Loss <= 0:
		return false
	case l.Loss >= 1:
		return true
	}
	return g.streamLocked(LinkKey{From: from, To: to}).Float64() < l.Loss
}

// PathDropLocked walks path hop by hop and stops at the first hop that drops
// the message. It returns the index of the dropping hop's sender in path, or
// -1 when the message survives every hop. Requires the write lock.
func (g *Graph) PathDropLocked(path []identity.NodeID) int {
	for i := 1; i < len(path); i++ {
		if g.DropLocked(path[i-1], path[i]) {
			return i - 1
		}
	}
	return -1
}
