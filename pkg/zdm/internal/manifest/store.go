// Package manifest implements the durable per-destination manifest store: a
// small metadata map plus an ordered piece table, backed by an embedded
// transactional key-value store (bbolt) so that every write commits to disk
// before returning.
package manifest

import (
	"encoding/binary"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"
)

var (
	metaBucket   = []byte("meta")
	piecesBucket = []byte("pieces")
)

// Status mirrors zdm.Status without importing the parent package, to avoid
// an import cycle between zdm and zdm/internal/manifest.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Row is the on-disk representation of one piece.
type Row struct {
	Index   int
	Start   int64
	End     int64
	SHA256  string
	Status  Status
	LastURL string
}

// Store is a durable key-value metadata map plus piece table, one per
// destination file.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the manifest database at path, creating both
// buckets if they do not already exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(piecesBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize manifest buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetMeta returns the value for key and whether it was present.
func (s *Store) GetMeta(key string) (string, bool, error) {
	var value string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		v := b.Get([]byte(key))
		if v != nil {
			value = string(v)
			ok = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("read meta %q: %w", key, err)
	}
	return value, ok, nil
}

// SetMeta durably stores key=value, last-write-wins.
func (s *Store) SetMeta(key, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("write meta %q: %w", key, err)
	}
	return nil
}

// ReplacePiece durably upserts one piece row, safe for concurrent callers.
func (s *Store) ReplacePiece(r Row) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(piecesBucket).Put(keyFor(r.Index), encodeRow(r))
	})
	if err != nil {
		return fmt.Errorf("write piece %d: %w", r.Index, err)
	}
	return nil
}

// LoadAll returns every piece row, ordered by index.
func (s *Store) LoadAll() ([]Row, error) {
	var rows []Row
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(piecesBucket)
		return b.ForEach(func(k, v []byte) error {
			r, err := decodeRow(v)
			if err != nil {
				return err
			}
			r.Index = int(binary.BigEndian.Uint64(k))
			rows = append(rows, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load pieces: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })
	return rows, nil
}

func keyFor(idx int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(idx))
	return k
}

// encodeRow packs a Row into a fixed-prefix + length-prefixed-string record:
// start(8) end(8) status(1) len(sha256)(2) sha256 len(last_url)(2) last_url.
func encodeRow(r Row) []byte {
	buf := make([]byte, 0, 8+8+1+2+len(r.SHA256)+2+len(r.LastURL))
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], uint64(r.Start))
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint64(tmp8[:], uint64(r.End))
	buf = append(buf, tmp8[:]...)
	buf = append(buf, statusByte(r.Status))

	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], uint16(len(r.SHA256)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, r.SHA256...)

	binary.BigEndian.PutUint16(tmp2[:], uint16(len(r.LastURL)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, r.LastURL...)
	return buf
}

func decodeRow(v []byte) (Row, error) {
	if len(v) < 8+8+1+2 {
		return Row{}, fmt.Errorf("truncated piece record")
	}
	var r Row
	r.Start = int64(binary.BigEndian.Uint64(v[0:8]))
	r.End = int64(binary.BigEndian.Uint64(v[8:16]))
	r.Status = statusFromByte(v[16])
	off := 17

	shaLen := int(binary.BigEndian.Uint16(v[off : off+2]))
	off += 2
	if off+shaLen > len(v) {
		return Row{}, fmt.Errorf("truncated sha256 field")
	}
	r.SHA256 = string(v[off : off+shaLen])
	off += shaLen

	if off+2 > len(v) {
		return Row{}, fmt.Errorf("truncated last_url length")
	}
	urlLen := int(binary.BigEndian.Uint16(v[off : off+2]))
	off += 2
	if off+urlLen > len(v) {
		return Row{}, fmt.Errorf("truncated last_url field")
	}
	r.LastURL = string(v[off : off+urlLen])
	return r, nil
}

func statusByte(s Status) byte {
	if s == StatusDone {
		return 1
	}
	return 0
}

func statusFromByte(b byte) Status {
	if b == 1 {
		return StatusDone
	}
	return StatusPending
}
