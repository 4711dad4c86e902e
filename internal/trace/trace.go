// Package trace records what a simulation did so two runs can be compared
// event by event or by digest.
package trace

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"p2p-simnet/internal/identity"
)

type Kind uint8

const (
	KindSend Kind = iota + 1
	KindDrop
	KindDeliver
	KindConnect
	KindDiscover
	KindDiscoverFailed
	KindPartition
	KindHeal
)

var kindNames = map[Kind]string{
	KindSend:           "send",
	KindDrop:           "drop",
	KindDeliver:        "deliver",
	KindConnect:        "connect",
	KindDiscover:       "discover",
	KindDiscoverFailed: "discover_failed",
	KindPartition:      "partition",
	KindHeal:           "heal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Event is one observable simulator action. At is virtual time since the
// clock's epoch. Digest is the BLAKE2b-256 of the payload for message events.
type Event struct {
	Seq    uint64
	At     time.Duration
	Kind   Kind
	From   identity.NodeID
	To     identity.NodeID
	Size   int
	Digest [32]byte
	Path   []identity.NodeID
	Name   string
}

func (ev Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d t=%s %s %s->%s", ev.Seq, ev.At, ev.Kind, ev.From.Short(), ev.To.Short())
	if ev.Size > 0 || ev.Kind == KindSend || ev.Kind == KindDeliver || ev.Kind == KindDrop {
		fmt.Fprintf(&b, " size=%d", ev.Size)
	}
	if len(ev.Path) > 0 {
		hops := make([]string, len(ev.Path))
		for i, id := range ev.Path {
			hops[i] = id.Short()
		}
		fmt.Fprintf(&b, " path=%s", strings.Join(hops, ","))
	}
	if ev.Name != "" {
		fmt.Fprintf(&b, " name=%q", ev.Name)
	}
	return b.String()
}

// PayloadDigest hashes a message body for Event.Digest.
func PayloadDigest(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// Recorder receives events. Implementations must be safe for concurrent use
// and assign Seq themselves.
type Recorder interface {
	Record(ev Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(Event) {}

// Memory keeps events in a slice.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.Seq = uint64(len(m.events)) + 1
	ev.Path = append([]identity.NodeID(nil), ev.Path...)
	m.events = append(m.events, ev)
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Filter returns the recorded events of the given kind.
func (m *Memory) Filter(kind Kind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (m *Memory) Digest() [32]byte {
	return Digest(m.Events())
}

// Digest hashes the canonical encoding of events in order.
func Digest(events []Event) [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// unkeyed BLAKE2b never fails
		panic(err)
	}
	for _, ev := range events {
		h.Write(Encode(ev))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Tee forwards every event to each recorder. Each recorder assigns its own Seq.
func Tee(recs ...Recorder) Recorder {
	out := make(tee, 0, len(recs))
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type tee []Recorder

func (t tee) Record(ev Event) {
	for _, r := range t {
		r.Record(ev)
	}
}
