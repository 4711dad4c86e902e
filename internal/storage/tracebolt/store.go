// Package tracebolt persists simulation traces in a bbolt database so runs can
// be listed and compared after the process exits.
package tracebolt

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	bolt "go.etcd.io/bbolt"

	"p2p-simnet/internal/trace"
)

const (
	bRuns   = "runs"
	bMeta   = "meta"
	bEvents = "events"
	kCount  = "count"
	kDigest = "digest"
	kSaved  = "saved_at"

	defaultTO = 2 * time.Second
)

var (
	ErrRunExists   = errors.New("run already exists")
	ErrRunNotFound = errors.New("run not found")
)

// Store is a bbolt database holding one bucket per run.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path, creating parent directories.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db dir")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bRuns)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bMeta))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Recorder starts a new run. Events are buffered in memory and written in a
// single transaction by RunRecorder.Close.
func (s *Store) Recorder(runID string) (*RunRecorder, error) {
	if runID == "" {
		return nil, errors.New("empty run id")
	}
	exists := false
	if err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(bRuns)).Bucket([]byte(runID)) != nil
		return nil
	}); err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Wrapf(ErrRunExists, "run %q", runID)
	}
	return &RunRecorder{store: s, runID: runID}, nil
}

// Runs lists stored run ids in key order.
func (s *Store) Runs() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bRuns)).ForEach(func(k, v []byte) error {
			if v == nil {
				out = append(out, string(k))
			}
			return nil
		})
	})
	return out, err
}

// Events loads a run's events in Seq order.
func (s *Store) Events(runID string) ([]trace.Event, error) {
	var out []trace.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		run := tx.Bucket([]byte(bRuns)).Bucket([]byte(runID))
		if run == nil {
			return errors.Wrapf(ErrRunNotFound, "run %q", runID)
		}
		c := run.Bucket([]byte(bEvents)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			ev, err := trace.Decode(v)
			if err != nil {
				return errors.Wrapf(err, "run %q seq %d", runID, decodeU64(k))
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

// Info is the per-run summary kept in the meta bucket.
type Info struct {
	RunID   string
	Count   uint64
	Digest  [32]byte
	SavedAt time.Time
}

// Info returns the stored summary of a run.
func (s *Store) Info(runID string) (Info, error) {
	out := Info{RunID: runID}
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bMeta)).Bucket([]byte(runID))
		if meta == nil {
			return errors.Wrapf(ErrRunNotFound, "run %q", runID)
		}
		out.Count = decodeU64(meta.Get([]byte(kCount)))
		copy(out.Digest[:], meta.Get([]byte(kDigest)))
		out.SavedAt = time.Unix(0, int64(decodeU64(meta.Get([]byte(kSaved))))).UTC()
		return nil
	})
	return out, err
}

// Digest returns the stored digest of a run.
func (s *Store) Digest(runID string) ([32]byte, error) {
	info, err := s.Info(runID)
	return info.Digest, err
}

// Verify recomputes a run's digest from its events and compares it with the
// stored one.
func (s *Store) Verify(runID string) (bool, error) {
	events, err := s.Events(runID)
	if err != nil {
		return false, err
	}
	stored, err := s.Digest(runID)
	if err != nil {
		return false, err
	}
	return trace.Digest(events) == stored, nil
}

// Delete removes a run and its summary.
func (s *Store) Delete(runID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(bRuns))
		if runs.Bucket([]byte(runID)) == nil {
			return errors.Wrapf(ErrRunNotFound, "run %q", runID)
		}
		if err := runs.DeleteBucket([]byte(runID)); err != nil {
			return err
		}
		meta := tx.Bucket([]byte(bMeta))
		if meta.Bucket([]byte(runID)) != nil {
			return meta.DeleteBucket([]byte(runID))
		}
		return nil
	})
}

func (s *Store) save(runID string, events []trace.Event) error {
	digest := trace.Digest(events)
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(bRuns))
		if runs.Bucket([]byte(runID)) != nil {
			return errors.Wrapf(ErrRunExists, "run %q", runID)
		}
		run, err := runs.CreateBucket([]byte(runID))
		if err != nil {
			return err
		}
		evb, err := run.CreateBucket([]byte(bEvents))
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := evb.Put(encodeU64(ev.Seq), trace.Encode(ev)); err != nil {
				return err
			}
		}

		meta, err := tx.Bucket([]byte(bMeta)).CreateBucket([]byte(runID))
		if err != nil {
			return err
		}
		if err := meta.Put([]byte(kCount), encodeU64(uint64(len(events)))); err != nil {
			return err
		}
		if err := meta.Put([]byte(kDigest), digest[:]); err != nil {
			return err
		}
		return meta.Put([]byte(kSaved), encodeU64(uint64(time.Now().UnixNano())))
	})
}

// RunRecorder is a trace.Recorder for one run of a Store.
type RunRecorder struct {
	store *Store
	runID string

	mu     sync.Mutex
	events []trace.Event
	closed bool
}

func (r *RunRecorder) RunID() string { return r.runID }

// Record assigns the next Seq and buffers ev. Events recorded after Close are
// ignored.
func (r *RunRecorder) Record(ev trace.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	ev.Seq = uint64(len(r.events)) + 1
	ev.Path = append(ev.Path[:0:0], ev.Path...)
	r.events = append(r.events, ev)
}

// Len is the number of buffered events.
func (r *RunRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Close writes the buffered events and the run summary. It is idempotent.
func (r *RunRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	events := r.events
	r.events = nil
	r.mu.Unlock()

	return r.store.save(r.runID, events)
}

var _ trace.Recorder = (*RunRecorder)(nil)

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
