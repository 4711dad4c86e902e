// Package transport defines the contract shared by the deterministic
// simulator and the real network backend.
//
// The identity and connection kinds are type parameters, so code written
// against Network is instantiated once per backend and calls the concrete
// methods directly.
package transport

import "github.com/cockroachdb/errors"

// Conn is a bidirectional message channel to one remote node.
type Conn[ID any] interface {
	// Send hands one opaque message to the network. A nil error does not
	// mean delivery: unreliable links may drop silently.
	Send(data []byte) error
	// Recv is non-blocking and returns ErrNoMessage when nothing is queued.
	Recv() ([]byte, error)
	IsConnected() bool
	Close() error
	RemoteNodeID() ID
}

// Network is the node-level facade a backend exposes.
type Network[ID any, C Conn[ID]] interface {
	Connect(remote ID) (C, error)
	RegisterPeer(name string, node ID)
	Discover(name string) (ID, error)
	ConnectByName(name string) (C, error)
	LocalNodeID() ID
}

// SendAll sends payloads in order and stops at the first error.
func SendAll[ID any, C Conn[ID]](c C, payloads ...[]byte) error {
	for i, p := range payloads {
		if err := c.Send(p); err != nil {
			return errors.Wrapf(err, "send %d/%d", i+1, len(payloads))
		}
	}
	return nil
}

// Drain pops every message currently queued on c.
func Drain[ID any, C Conn[ID]](c C) ([][]byte, error) {
	var out [][]byte
	for {
		msg, err := c.Recv()
		if errors.Is(err, ErrNoMessage) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
}

// Dial resolves name through the network's discovery and connects to it.
// Backends use it to implement ConnectByName.
func Dial[ID any, C Conn[ID]](discover func(string) (ID, error), connect func(ID) (C, error), name string) (C, error) {
	id, err := discover(name)
	if err != nil {
		var zero C
		return zero, err
	}
	return connect(id)
}
