package trace

import (
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"

	"p2p-simnet/internal/identity"
)

// Fixed part: seq(8) at(8) kind(1) from(32) to(32) size(8) digest(32) npath(4).
const fixedLen = 8 + 8 + 1 + identity.Size*2 + 8 + 32 + 4

var errShortEvent = errors.New("trace: truncated event")

// Encode is the canonical big-endian encoding used for digests and storage.
func Encode(ev Event) []byte {
	b := make([]byte, 0, fixedLen+len(ev.Path)*identity.Size+4+len(ev.Name))
	b = binary.BigEndian.AppendUint64(b, ev.Seq)
	b = binary.BigEndian.AppendUint64(b, uint64(ev.At))
	b = append(b, byte(ev.Kind))
	b = append(b, ev.From[:]...)
	b = append(b, ev.To[:]...)
	b = binary.BigEndian.AppendUint64(b, uint64(ev.Size))
	b = append(b, ev.Digest[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(ev.Path)))
	for _, id := range ev.Path {
		b = append(b, id[:]...)
	}
	b = binary.BigEndian.AppendUint32(b, uint32(len(ev.Name)))
	b = append(b, ev.Name...)
	return b
}

// Decode parses the output of Encode. The result does not alias b.
func Decode(b []byte) (Event, error) {
	var ev Event
	if len(b) < fixedLen {
		return ev, errShortEvent
	}
	ev.Seq = binary.BigEndian.Uint64(b[0:8])
	ev.At = time.Duration(binary.BigEndian.Uint64(b[8:16]))
	ev.Kind = Kind(b[16])
	off := 17
	copy(ev.From[:], b[off:off+identity.Size])
	off += identity.Size
	copy(ev.To[:], b[off:off+identity.Size])
	off += identity.Size
	ev.Size = int(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	copy(ev.Digest[:], b[off:off+32])
	off += 32
	npath := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4

	if len(b) < off+npath*identity.Size+4 {
		return Event{}, errShortEvent
	}
	if npath > 0 {
		ev.Path = make([]identity.NodeID, npath)
		for i := range ev.Path {
			copy(ev.Path[i][:], b[off:off+identity.Size])
			off += identity.Size
		}
	}
	nname := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if len(b) != off+nname {
		return Event{}, errors.Wrapf(errShortEvent, "name length %d, have %d", nname, len(b)-off)
	}
	ev.Name = string(b[off:])
	return ev, nil
}
