package scenario

import (
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"p2p-simnet/internal/identity"
	"p2p-simnet/internal/trace"
	"p2p-simnet/internal/transport"
)

func mustLoad(t *testing.T, src string) *Scenario {
	t.Helper()
	sc, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	return sc
}

func TestLoadFile_Basic(t *testing.T) {
	sc, err := LoadFile("testdata/basic.yaml")
	require.NoError(t, err)

	assert.Equal(t, int64(42), sc.Seed)
	require.NotNil(t, sc.DiscoveryDelay)
	assert.Equal(t, 20*time.Millisecond, *sc.DiscoveryDelay)
	assert.Nil(t, sc.MaxMessageSize)
	assert.Equal(t, []string{"alice", "bob", "carol"}, sc.Nodes)
	require.Len(t, sc.Links, 2)
	assert.Equal(t, 15*time.Millisecond, sc.Links[1].Latency)
	assert.True(t, sc.Links[0].active())
	assert.Equal(t, "send", sc.Steps[1].Op())
	assert.Equal(t, 2, sc.Steps[2].Send.Repeat)
	assert.Equal(t, "advance", sc.Steps[10].Op())
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("testdata/nope.yaml")
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown link node":  "nodes: [a]\nlinks: [{a: a, b: z, latency: 1ms}]\n",
		"unknown step node":  "nodes: [a]\nsteps: [{send: {from: a, to: z, data: x}}]\n",
		"unknown name node":  "nodes: [a]\nnames: {x: z}\n",
		"duplicate node":     "nodes: [a, a]\n",
		"loss out of range":  "nodes: [a, b]\nlinks: [{a: a, b: b, loss: 1.5}]\n",
		"negative latency":   "nodes: [a, b]\nlinks: [{a: a, b: b, latency: -1ms}]\n",
		"two actions":        "nodes: [a, b]\nsteps: [{send: {from: a, to: b}, recv: {node: b, from: a}}]\n",
		"no action":          "nodes: [a]\nsteps: [{}]\n",
		"unknown field":      "nodes: [a]\nbogus: 1\n",
		"bad duration":       "nodes: [a, b]\nlinks: [{a: a, b: b, latency: soon}]\n",
		"negative max size":  "max_message_size: -1\nnodes: [a]\n",
		"unknown heal node":  "nodes: [a]\nsteps: [{heal: {a: [a], b: [z]}}]\n",
		"unknown expect":     "nodes: [a]\nsteps: [{discover: {from: a, name: x, expect: z}}]\n",
		"negative repeat":    "nodes: [a, b]\nsteps: [{send: {from: a, to: b, repeat: -2}}]\n",
		"negative advance":   "nodes: [a]\nsteps: [{advance: -1s}]\n",
		"unknown set_link":   "nodes: [a]\nsteps: [{set_link: {a: a, b: z}}]\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "%v", err)
		})
	}
}

func TestRun_Basic(t *testing.T) {
	sc, err := LoadFile("testdata/basic.yaml")
	require.NoError(t, err)

	rec := trace.NewMemory()
	res, err := Run(sc, rec, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	// the send across the partition and the failed discovery are the only failures
	require.Len(t, res.Failures, 2, "%v", res.Failures)
	assert.Equal(t, "discover", res.Failures[0].Op)
	assert.True(t, errors.Is(res.Failures[0].Err, transport.ErrDiscoveryFailed))
	assert.Equal(t, "send", res.Failures[1].Op)
	assert.Equal(t, 7, res.Failures[1].Step)
	assert.True(t, errors.Is(res.Failures[1].Err, transport.ErrNoRoute))
	assert.False(t, res.OK())

	var got []string
	for _, d := range res.Received {
		got = append(got, string(d.Data))
	}
	assert.Equal(t, []string{"hello", "again", "again", "back"}, got)

	// 3 sends over 25ms, 2 discoveries at 20ms, 1 send over 20ms, then 1s
	assert.Equal(t, 3*25*time.Millisecond+2*20*time.Millisecond+20*time.Millisecond+time.Second, res.Elapsed)

	assert.Equal(t, rec.Events(), res.Events)
	assert.Equal(t, rec.Digest(), res.Digest)
	assert.Equal(t, len(sc.Steps), res.StepCount)
	assert.Equal(t, identity.FromSeed("carol"), res.NodeIDs["carol"])

	var partitions, heals int
	for _, ev := range res.Events {
		switch ev.Kind {
		case trace.KindPartition:
			partitions++
			assert.Equal(t, 2, ev.Size)
		case trace.KindHeal:
			heals++
			assert.Equal(t, 1, ev.Size)
		}
	}
	assert.Equal(t, 1, partitions)
	assert.Equal(t, 1, heals)
}

func TestRun_Deterministic(t *testing.T) {
	sc, err := LoadFile("testdata/lossy.yaml")
	require.NoError(t, err)

	r1, err := Run(sc, nil)
	require.NoError(t, err)
	r2, err := Run(sc, nil)
	require.NoError(t, err)

	assert.Equal(t, r1.Digest, r2.Digest)
	assert.Equal(t, r1.Received, r2.Received)
	assert.Equal(t, r1.Elapsed, r2.Elapsed)
	assert.True(t, r1.OK())
	assert.NotEmpty(t, r1.Received)
	assert.Less(t, len(r1.Received), 200)

	sc.Seed++
	r3, err := Run(sc, nil)
	require.NoError(t, err)
	assert.NotEqual(t, r1.Digest, r3.Digest)
}

func TestRun_ExpectMismatch(t *testing.T) {
	sc := mustLoad(t, `
nodes: [a, b]
links: [{a: a, b: b, latency: 1ms}]
steps:
  - send: {from: a, to: b, data: one}
  - recv: {node: b, from: a, expect: [two]}
`)
	res, err := Run(sc, nil)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "recv", res.Failures[0].Op)
	assert.Contains(t, res.Failures[0].Err.Error(), "two")
}

func TestRun_MaxMessageSize(t *testing.T) {
	sc := mustLoad(t, `
max_message_size: 3
nodes: [a, b]
links: [{a: a, b: b, latency: 1ms}]
steps:
  - send: {from: a, to: b, data: toolong}
  - send: {from: a, to: b, data: ok}
  - recv: {node: b, from: a, expect: [ok]}
`)
	res, err := Run(sc, nil)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.True(t, errors.Is(res.Failures[0].Err, transport.ErrMessageTooLarge))
}

func TestRun_InactiveLinkAndSetLink(t *testing.T) {
	sc := mustLoad(t, `
nodes: [a, b]
links: [{a: a, b: b, latency: 1ms, active: false}]
steps:
  - send: {from: a, to: b, data: x}
  - set_link: {a: a, b: b, active: true}
  - send: {from: a, to: b, data: y}
  - recv: {node: b, from: a, expect: [y]}
  - set_link: {a: a, b: a, active: true}
`)
	res, err := Run(sc, nil)
	require.NoError(t, err)
	require.Len(t, res.Failures, 2)
	assert.True(t, errors.Is(res.Failures[0].Err, transport.ErrNoRoute))
	assert.Equal(t, "set_link", res.Failures[1].Op)
}

func TestRun_Bandwidth(t *testing.T) {
	sc := mustLoad(t, `
enforce_bandwidth: true
nodes: [a, b]
links: [{a: a, b: b, latency: 10ms, bandwidth: 100}]
steps:
  - send: {from: a, to: b, data: "0123456789"}
`)
	res, err := Run(sc, nil)
	require.NoError(t, err)
	assert.Equal(t, 110*time.Millisecond, res.Elapsed)
}
