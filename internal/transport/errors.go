package transport

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"p2p-simnet/internal/identity"
)

var (
	// ErrConnectionClosed is returned by Send after Close.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNoRoute marks NoRouteError.
	ErrNoRoute = errors.New("no route to peer")
	// ErrMessageTooLarge marks MessageTooLargeError.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrDiscoveryFailed marks DiscoveryFailedError.
	ErrDiscoveryFailed = errors.New("discovery failed")
	// ErrNetwork marks backend-specific transport faults.
	ErrNetwork = errors.New("network error")
	// ErrNoMessage is returned by a non-blocking Recv with nothing queued.
	ErrNoMessage = errors.New("no message available")
	// ErrInvalidNodeID is returned for malformed identity input.
	ErrInvalidNodeID = identity.ErrInvalidNodeID
)

// NoRouteError reports that Node cannot be reached from the local node.
type NoRouteError struct {
	Node identity.NodeID
}

func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route to %s", e.Node.Short())
}

// MessageTooLargeError reports a payload above the configured maximum.
type MessageTooLargeError struct {
	Size int
	Max  int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message of %d bytes exceeds maximum of %d", e.Size, e.Max)
}

// DiscoveryFailedError reports that no peer is registered under Name.
type DiscoveryFailedError struct {
	Name string
}

func (e *DiscoveryFailedError) Error() string {
	return fmt.Sprintf("discovery failed for %q", e.Name)
}

// NoRoute returns a NoRouteError that also matches ErrNoRoute under errors.Is.
func NoRoute(node identity.NodeID) error {
	return errors.Mark(&NoRouteError{Node: node}, ErrNoRoute)
}

// MessageTooLarge returns a MessageTooLargeError that also matches
// ErrMessageTooLarge.
func MessageTooLarge(size, max int) error {
	return errors.Mark(&MessageTooLargeError{Size: size, Max: max}, ErrMessageTooLarge)
}

// DiscoveryFailed returns a DiscoveryFailedError that also matches
// ErrDiscoveryFailed.
func DiscoveryFailed(name string) error {
	return errors.Mark(&DiscoveryFailedError{Name: name}, ErrDiscoveryFailed)
}

// NetworkError wraps a backend fault so it matches ErrNetwork.
func NetworkError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrNetwork)
}
