package peersync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// DefaultAbsenceTTL is how long a peer's 404 for a resource is remembered.
const DefaultAbsenceTTL = time.Hour

// AbsenceStore remembers which peers answered "not found" for a resource, so
// that they are skipped after the peer set is refreshed and on later pulls.
// Transient failures are never recorded here.
type AbsenceStore interface {
	MarkAbsent(storeID, resource, peer string) error
	IsAbsent(storeID, resource, peer string) (bool, error)
	// Forget drops every record for resource, once it has been obtained.
	Forget(storeID, resource string) error
}

// MemAbsenceStore is an in-memory AbsenceStore.
type MemAbsenceStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

var _ AbsenceStore = (*MemAbsenceStore)(nil)

// NewMemAbsenceStore creates an in-memory store. A ttl of zero uses
// DefaultAbsenceTTL.
func NewMemAbsenceStore(ttl time.Duration) *MemAbsenceStore {
	if ttl <= 0 {
		ttl = DefaultAbsenceTTL
	}
	return &MemAbsenceStore{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (m *MemAbsenceStore) MarkAbsent(storeID, resource, peer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[string(absenceKey(storeID, resource, peer))] = m.now()
	return nil
}

func (m *MemAbsenceStore) IsAbsent(storeID, resource, peer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(absenceKey(storeID, resource, peer))
	at, ok := m.seen[k]
	if !ok {
		return false, nil
	}
	if m.now().Sub(at) >= m.ttl {
		delete(m.seen, k)
		return false, nil
	}
	return true, nil
}

func (m *MemAbsenceStore) Forget(storeID, resource string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := string(absencePrefix(storeID, resource))
	for k := range m.seen {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.seen, k)
		}
	}
	return nil
}

var bucketAbsent = []byte("absent")

// BoltAbsenceStore persists absence records in a bbolt database so they
// survive restarts.
type BoltAbsenceStore struct {
	db  *bbolt.DB
	ttl time.Duration
	now func() time.Time
}

var _ AbsenceStore = (*BoltAbsenceStore)(nil)

// OpenBoltAbsenceStore opens or creates the database at dbPath. The parent
// directory is created if it does not exist.
func OpenBoltAbsenceStore(dbPath string, ttl time.Duration) (*BoltAbsenceStore, error) {
	if ttl <= 0 {
		ttl = DefaultAbsenceTTL
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("peersync: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("peersync: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAbsent)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("peersync: create bucket: %w", err)
	}
	return &BoltAbsenceStore{db: db, ttl: ttl, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *BoltAbsenceStore) Close() error { return s.db.Close() }

func (s *BoltAbsenceStore) MarkAbsent(storeID, resource, peer string) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(s.now().UnixNano()))
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAbsent).Put(absenceKey(storeID, resource, peer), v)
	})
}

func (s *BoltAbsenceStore) IsAbsent(storeID, resource, peer string) (bool, error) {
	var at int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketAbsent).Get(absenceKey(storeID, resource, peer))
		if len(v) == 8 {
			at = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	if err != nil || at == 0 {
		return false, err
	}
	return s.now().Sub(time.Unix(0, at)) < s.ttl, nil
}

func (s *BoltAbsenceStore) Forget(storeID, resource string) error {
	prefix := absencePrefix(storeID, resource)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAbsent)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func absencePrefix(storeID, resource string) []byte {
	return []byte(storeID + "\x00" + resource + "\x00")
}

func absenceKey(storeID, resource, peer string) []byte {
	return append(absencePrefix(storeID, resource), peer...)
}
