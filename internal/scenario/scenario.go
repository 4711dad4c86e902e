// Package scenario loads simulation scripts from YAML and runs them against
// the simulator.
package scenario

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid scenario")

// Scenario is a declarative network plus an ordered list of steps.
type Scenario struct {
	Seed             int64             `yaml:"seed"`
	MaxMessageSize   *int              `yaml:"max_message_size"`
	DiscoveryDelay   *time.Duration    `yaml:"discovery_delay"`
	EnforceBandwidth bool              `yaml:"enforce_bandwidth"`
	Nodes            []string          `yaml:"nodes"`
	Links            []Link            `yaml:"links"`
	Names            map[string]string `yaml:"names"`
	Steps            []Step            `yaml:"steps"`
}

type Link struct {
	A         string        `yaml:"a"`
	B         string        `yaml:"b"`
	Latency   time.Duration `yaml:"latency"`
	Loss      float64       `yaml:"loss"`
	Bandwidth uint64        `yaml:"bandwidth"`
	Active    *bool         `yaml:"active"`
}

func (l Link) active() bool { return l.Active == nil || *l.Active }

// Step holds exactly one action.
type Step struct {
	Send      *Send         `yaml:"send"`
	Recv      *Recv         `yaml:"recv"`
	Discover  *Discover     `yaml:"discover"`
	Partition *Partition    `yaml:"partition"`
	Heal      *Heal         `yaml:"heal"`
	SetLink   *SetLink      `yaml:"set_link"`
	Advance   time.Duration `yaml:"advance"`
}

type Send struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Data   string `yaml:"data"`
	Repeat int    `yaml:"repeat"`
}

// Recv drains what From sent to Node. When Expect is set the drained
// messages must match it exactly.
type Recv struct {
	Node   string   `yaml:"node"`
	From   string   `yaml:"from"`
	Expect []string `yaml:"expect"`
}

type Discover struct {
	From   string `yaml:"from"`
	Name   string `yaml:"name"`
	Expect string `yaml:"expect"`
}

type Partition struct {
	A []string `yaml:"a"`
	B []string `yaml:"b"`
}

type Heal struct {
	A         []string      `yaml:"a"`
	B         []string      `yaml:"b"`
	Latency   time.Duration `yaml:"latency"`
	Loss      float64       `yaml:"loss"`
	Bandwidth uint64        `yaml:"bandwidth"`
}

type SetLink struct {
	A      string `yaml:"a"`
	B      string `yaml:"b"`
	Active bool   `yaml:"active"`
}

// Op names the action of a step.
func (s Step) Op() string {
	switch {
	case s.Send != nil:
		return "send"
	case s.Recv != nil:
		return "recv"
	case s.Discover != nil:
		return "discover"
	case s.Partition != nil:
		return "partition"
	case s.Heal != nil:
		return "heal"
	case s.SetLink != nil:
		return "set_link"
	case s.Advance != 0:
		return "advance"
	}
	return ""
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Send != nil, s.Recv != nil, s.Discover != nil,
		s.Partition != nil, s.Heal != nil, s.SetLink != nil, s.Advance != 0,
	} {
		if set {
			n++
		}
	}
	return n
}

// Load decodes and validates a scenario. Unknown fields are rejected.
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode scenario"), ErrInvalid)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return sc, nil
}

// Validate checks that every node reference is declared and every step has
// exactly one action.
func (sc *Scenario) Validate() error {
	known := make(map[string]bool, len(sc.Nodes))
	for _, n := range sc.Nodes {
		if n == "" {
			return invalid("empty node name")
		}
		if known[n] {
			return invalid("duplicate node %q", n)
		}
		known[n] = true
	}
	check := func(where string, names ...string) error {
		for _, n := range names {
			if !known[n] {
				return invalid("%s: unknown node %q", where, n)
			}
		}
		return nil
	}

	if sc.MaxMessageSize != nil && *sc.MaxMessageSize < 0 {
		return invalid("negative max_message_size")
	}
	if sc.DiscoveryDelay != nil && *sc.DiscoveryDelay < 0 {
		return invalid("negative discovery_delay")
	}
	for i, l := range sc.Links {
		where := "link " + strconv.Itoa(i)
		if err := check(where, l.A, l.B); err != nil {
			return err
		}
		if err := checkLink(where, l.Latency, l.Loss); err != nil {
			return err
		}
	}
	for name, node := range sc.Names {
		if err := check("name "+name, node); err != nil {
			return err
		}
	}

	for i, st := range sc.Steps {
		where := "step " + strconv.Itoa(i)
		if st.actions() != 1 {
			return invalid("%s: want exactly one action, have %d", where, st.actions())
		}
		var err error
		switch {
		case st.Send != nil:
			err = check(where, st.Send.From, st.Send.To)
			if err == nil && st.Send.Repeat < 0 {
				err = invalid("%s: negative repeat", where)
			}
		case st.Recv != nil:
			err = check(where, st.Recv.Node, st.Recv.From)
		case st.Discover != nil:
			err = check(where, st.Discover.From)
			if err == nil && st.Discover.Expect != "" {
				err = check(where, st.Discover.Expect)
			}
		case st.Partition != nil:
			err = check(where, append(append([]string(nil), st.Partition.A...), st.Partition.B...)...)
		case st.Heal != nil:
			err = check(where, append(append([]string(nil), st.Heal.A...), st.Heal.B...)...)
			if err == nil {
				err = checkLink(where, st.Heal.Latency, st.Heal.Loss)
			}
		case st.SetLink != nil:
			err = check(where, st.SetLink.A, st.SetLink.B)
		case st.Advance < 0:
			err = invalid("%s: negative advance", where)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func checkLink(where string, latency time.Duration, loss float64) error {
	if latency < 0 {
		return invalid("%s: negative latency", where)
	}
	if loss < 0 || loss > 1 {
		return invalid("%s: loss %v outside [0,1]", where, loss)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalid)
}
