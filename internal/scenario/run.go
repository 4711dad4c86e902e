package scenario

import (
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"p2p-simnet/internal/identity"
	"p2p-simnet/internal/netgraph"
	"p2p-simnet/internal/simnet"
	"p2p-simnet/internal/trace"
	"p2p-simnet/internal/transport"
	"p2p-simnet/internal/vclock"
)

// Result is what a run produced. Step failures such as a send with no route
// or a recv that did not match its expectation are collected, not returned.
type Result struct {
	Events    []trace.Event
	Digest    [32]byte
	Elapsed   time.Duration
	Received  []Delivery
	Failures  []Failure
	NodeIDs   map[string]identity.NodeID
	StepCount int
}

type Delivery struct {
	Step int
	Node string
	From string
	Data []byte
}

type Failure struct {
	Step int
	Op   string
	Err  error
}

func (r *Result) OK() bool { return len(r.Failures) == 0 }

type Option func(*runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *runner) { r.log = l }
}

type runner struct {
	sc    *Scenario
	log   *zap.Logger
	clock *vclock.Stepping
	graph *netgraph.Graph
	rec   trace.Recorder
	mem   *trace.Memory

	ids     map[string]identity.NodeID
	names   map[identity.NodeID]string
	systems map[string]*simnet.System
	res     *Result
}

// Run builds the network described by sc and executes its steps in order on
// a stepping clock. Every event goes to rec (which may be nil) and into the
// Result.
func Run(sc *Scenario, rec trace.Recorder, opts ...Option) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	r := &runner{
		sc:      sc,
		log:     zap.NewNop(),
		clock:   vclock.NewStepping(),
		mem:     trace.NewMemory(),
		ids:     make(map[string]identity.NodeID, len(sc.Nodes)),
		names:   make(map[identity.NodeID]string, len(sc.Nodes)),
		systems: make(map[string]*simnet.System, len(sc.Nodes)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.rec = trace.Tee(r.mem, rec)
	r.graph = netgraph.New(netgraph.WithSeed(sc.Seed), netgraph.WithLogger(r.log))
	r.res = &Result{NodeIDs: r.ids}

	r.build()
	for i, st := range sc.Steps {
		if err := r.step(i, st); err != nil {
			r.log.Info("step failed", zap.Int("step", i), zap.String("op", st.Op()), zap.Error(err))
			r.res.Failures = append(r.res.Failures, Failure{Step: i, Op: st.Op(), Err: err})
		}
		r.res.StepCount++
	}

	r.res.Events = r.mem.Events()
	r.res.Digest = trace.Digest(r.res.Events)
	r.res.Elapsed = vclock.Elapsed(r.clock)
	return r.res, nil
}

func (r *runner) build() {
	simOpts := []simnet.Option{
		simnet.WithClock(r.clock),
		simnet.WithRecorder(r.rec),
		simnet.WithLogger(r.log),
		simnet.WithBandwidth(r.sc.EnforceBandwidth),
	}
	if r.sc.MaxMessageSize != nil {
		simOpts = append(simOpts, simnet.WithMaxMessageSize(*r.sc.MaxMessageSize))
	}
	if r.sc.DiscoveryDelay != nil {
		simOpts = append(simOpts, simnet.WithDiscoveryDelay(*r.sc.DiscoveryDelay))
	}

	for _, n := range r.sc.Nodes {
		id := identity.FromSeed(n)
		r.ids[n] = id
		r.names[id] = n
		r.systems[n] = simnet.New(id, r.graph, simOpts...)
	}
	for _, l := range r.sc.Links {
		r.graph.ConnectNodes(r.ids[l.A], r.ids[l.B], netgraph.LinkInfo{
			Latency:   l.Latency,
			Loss:      l.Loss,
			Bandwidth: l.Bandwidth,
			Active:    l.active(),
		})
	}

	names := make([]string, 0, len(r.sc.Names))
	for name := range r.sc.Names {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		node := r.sc.Names[name]
		r.systems[node].RegisterPeer(name, r.ids[node])
	}
	r.log.Info("network built",
		zap.Int("nodes", len(r.sc.Nodes)),
		zap.Int("links", len(r.sc.Links)),
		zap.Int64("seed", r.sc.Seed))
}

func (r *runner) step(i int, st Step) error {
	switch {
	case st.Send != nil:
		return r.send(st.Send)
	case st.Recv != nil:
		return r.recv(i, st.Recv)
	case st.Discover != nil:
		return r.discover(st.Discover)
	case st.Partition != nil:
		removed := r.graph.AddPartition(r.nodes(st.Partition.A), r.nodes(st.Partition.B))
		r.record(trace.KindPartition, removed)
	case st.Heal != nil:
		added := r.graph.HealPartition(r.nodes(st.Heal.A), r.nodes(st.Heal.B), netgraph.LinkInfo{
			Latency:   st.Heal.Latency,
			Loss:      st.Heal.Loss,
			Bandwidth: st.Heal.Bandwidth,
			Active:    true,
		})
		r.record(trace.KindHeal, added)
	case st.SetLink != nil:
		if !r.graph.SetLinkActive(r.ids[st.SetLink.A], r.ids[st.SetLink.B], st.SetLink.Active) {
			return errors.Newf("no link between %s and %s", st.SetLink.A, st.SetLink.B)
		}
	case st.Advance > 0:
		r.clock.Advance(st.Advance)
	}
	return nil
}

// conn returns the table entry of from's System for to, connecting if needed.
func (r *runner) conn(from, to string) (*simnet.Conn, error) {
	sys := r.systems[from]
	if c, ok := sys.Connection(r.ids[to]); ok && c.IsConnected() {
		return c, nil
	}
	return sys.Connect(r.ids[to])
}

func (r *runner) send(s *Send) error {
	c, err := r.conn(s.From, s.To)
	if err != nil {
		return err
	}
	n := max(s.Repeat, 1)
	payloads := make([][]byte, n)
	for i := range payloads {
		payloads[i] = []byte(s.Data)
	}
	return transport.SendAll[identity.NodeID](c, payloads...)
}

func (r *runner) recv(i int, s *Recv) error {
	c, err := r.conn(s.Node, s.From)
	if err != nil {
		return err
	}
	msgs, err := transport.Drain[identity.NodeID](c)
	if err != nil {
		return err
	}
	got := make([]string, len(msgs))
	for j, m := range msgs {
		got[j] = string(m)
		r.res.Received = append(r.res.Received, Delivery{Step: i, Node: s.Node, From: s.From, Data: m})
	}
	if s.Expect != nil && !slices.Equal(got, s.Expect) {
		return errors.Newf("%s from %s: got %q, want %q", s.Node, s.From, got, s.Expect)
	}
	return nil
}

func (r *runner) discover(d *Discover) error {
	id, err := r.systems[d.From].Discover(d.Name)
	if err != nil {
		return err
	}
	if d.Expect != "" && id != r.ids[d.Expect] {
		return errors.Newf("discover %q: got %s, want %s", d.Name, r.label(id), d.Expect)
	}
	return nil
}

func (r *runner) record(kind trace.Kind, links int) {
	r.rec.Record(trace.Event{
		At:   vclock.Elapsed(r.clock),
		Kind: kind,
		Size: links,
	})
}

func (r *runner) nodes(names []string) []identity.NodeID {
	out := make([]identity.NodeID, len(names))
	for i, n := range names {
		out[i] = r.ids[n]
	}
	return out
}

func (r *runner) label(id identity.NodeID) string {
	if n, ok := r.names[id]; ok {
		return n
	}
	return id.Short()
}
