package store

import (
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrNotFound is returned when a key history entry does not exist.
var ErrNotFound = errors.New("key record not found")

// KeyRecord is one entry in the history of server signing keys.
type KeyRecord struct {
	Fingerprint string    `json:"fingerprint"`
	PublicKey   string    `json:"publicKey"`
	Algorithm   string    `json:"algorithm"`
	Curve       string    `json:"curve,omitempty"`
	KeySize     int       `json:"keySize,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	RetiredAt   time.Time `json:"retiredAt,omitzero"`
}

// Current reports whether the key has not been retired.
func (k KeyRecord) Current() bool { return k.RetiredAt.IsZero() }

// KeyLog is an append-mostly log of the keys the service has signed with.
// The initial implementation uses bbolt; the interface keeps the keystore
// independent of the storage engine.
type KeyLog interface {
	// Append records a new key. Appending a fingerprint that is already
	// present is a no-op.
	Append(rec KeyRecord) error
	// Retire stamps the retirement time of an existing key.
	Retire(fingerprint string, at time.Time) error
	// List returns all keys, oldest first.
	List() ([]KeyRecord, error)
	Close() error
}

// MemoryKeyLog is a KeyLog that lives only as long as the process. It is
// used when no data directory is configured.
type MemoryKeyLog struct {
	mu      sync.Mutex
	records []KeyRecord
}

func NewMemoryKeyLog() *MemoryKeyLog {
	return &MemoryKeyLog{}
}

func (m *MemoryKeyLog) Append(rec KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index(rec.Fingerprint) >= 0 {
		return nil
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryKeyLog) Retire(fingerprint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(fingerprint)
	if i < 0 {
		return ErrNotFound
	}
	m.records[i].RetiredAt = at
	return nil
}

func (m *MemoryKeyLog) List() ([]KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records), nil
}

func (m *MemoryKeyLog) Close() error { return nil }

func (m *MemoryKeyLog) index(fingerprint string) int {
	return slices.IndexFunc(m.records, func(r KeyRecord) bool {
		return r.Fingerprint == fingerprint
	})
}
