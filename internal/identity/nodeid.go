// Package identity defines the fixed-size node identifier shared by the
// simulator and the real transport backends.
package identity

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
)

// Size is the length of a NodeID in bytes.
const Size = 32

// shortLen is the number of bytes rendered by Short.
const shortLen = 5

// ErrInvalidNodeID is returned when bytes or text cannot be turned into a NodeID.
var ErrInvalidNodeID = errors.New("invalid node id")

// NodeID is a 32-byte node identifier. It is a value type, so copies are
// independent and the zero value is a valid (all-zero) id.
type NodeID [Size]byte

// FromSeed derives a NodeID deterministically from seed. The seed is hashed
// with BLAKE2b-256 into a ChaCha20 key and the first 32 keystream bytes
// become the id.
func FromSeed(seed string) NodeID {
	key := blake2b.Sum256([]byte(seed))
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// key and nonce sizes are constants
		panic(err)
	}
	var id NodeID
	c.XORKeyStream(id[:], id[:])
	return id
}

// Generate returns a NodeID drawn from the process random source.
func Generate() (NodeID, error) {
	return Read(rand.Reader)
}

// Read fills a NodeID from r.
func Read(r io.Reader) (NodeID, error) {
	var id NodeID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return NodeID{}, errors.Wrap(err, "read node id")
	}
	return id, nil
}

// FromBytes copies b into a NodeID. b must be exactly Size bytes long.
func FromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != Size {
		return id, errors.Wrapf(ErrInvalidNodeID, "need %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseHex parses the 64-character hex form produced by String.
func ParseHex(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, errors.Wrapf(ErrInvalidNodeID, "decode hex: %v", err)
	}
	return FromBytes(b)
}

// MustParseHex is ParseHex for constants in tests and fixtures.
func MustParseHex(s string) NodeID {
	id, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Bytes returns a copy of the raw id.
func (id NodeID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// String is the full lowercase hex encoding.
func (id NodeID) String() string { return hex.EncodeToString(id[:]) }

// Short renders the first 5 bytes, for logs.
func (id NodeID) Short() string { return hex.EncodeToString(id[:shortLen]) }

// IsZero reports whether every byte is zero.
func (id NodeID) IsZero() bool { return id == NodeID{} }

// Compare orders ids byte-wise, returning -1, 0 or +1.
func (id NodeID) Compare(other NodeID) int { return bytes.Compare(id[:], other[:]) }

// Less reports whether id sorts before other.
func (id NodeID) Less(other NodeID) bool { return id.Compare(other) < 0 }

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Comparator orders NodeID keys inside gods containers.
func Comparator(a, b any) int {
	return a.(NodeID).Compare(b.(NodeID))
}

// short wraps a NodeID so zap.Stringer logs the short form.
type short NodeID

func (s short) String() string { return NodeID(s).Short() }

// ShortStringer returns a fmt.Stringer that renders id.Short(). It keeps log
// fields compact without formatting eagerly.
func ShortStringer(id NodeID) fmt.Stringer { return short(id) }
