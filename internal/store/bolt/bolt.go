package bolt

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"useradmin/internal/store"
	pb "useradmin/pkg/proto"
)

var (
	keysBucket  = []byte("keys")
	indexBucket = []byte("keys-by-fingerprint")
)

// Store implements store.KeyLog using bbolt (embedded B+ tree). Records are
// keyed by a big-endian sequence number so iteration is insertion ordered,
// and a second bucket maps fingerprints to sequence keys.
type Store struct {
	db *bolt.DB
}

var _ store.KeyLog = (*Store)(nil)

// Open creates or opens a bbolt database at the given path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{keysBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Append(rec store.KeyRecord) error {
	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(indexBucket)
		if idx.Get([]byte(rec.Fingerprint)) != nil {
			return nil
		}
		keys := tx.Bucket(keysBucket)
		seq, err := keys.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating key sequence: %w", err)
		}
		k := seqKey(seq)
		if err := keys.Put(k, val); err != nil {
			return err
		}
		return idx.Put([]byte(rec.Fingerprint), k)
	})
}

func (s *Store) Retire(fingerprint string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		k := tx.Bucket(indexBucket).Get([]byte(fingerprint))
		if k == nil {
			return store.ErrNotFound
		}
		keys := tx.Bucket(keysBucket)
		v := keys.Get(k)
		if v == nil {
			return fmt.Errorf("key index points at missing record %x: %w", k, store.ErrNotFound)
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		rec.RetiredAt = at
		val, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		// k belongs to the read-only index page; copy before reuse as a key.
		return keys.Put(append([]byte(nil), k...), val)
	})
}

func (s *Store) List() ([]store.KeyRecord, error) {
	var out []store.KeyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(keysBucket).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func encodeRecord(rec store.KeyRecord) ([]byte, error) {
	m := pb.KeyRecord{
		Fingerprint:       rec.Fingerprint,
		PublicKey:         rec.PublicKey,
		Algorithm:         rec.Algorithm,
		Curve:             rec.Curve,
		KeySize:           int32(rec.KeySize),
		CreatedAtUnixNano: unixNano(rec.CreatedAt),
		RetiredAtUnixNano: unixNano(rec.RetiredAt),
	}
	b, err := pb.MarshalKeyRecord(m)
	if err != nil {
		return nil, fmt.Errorf("encoding key record: %w", err)
	}
	return b, nil
}

func decodeRecord(v []byte) (store.KeyRecord, error) {
	m, err := pb.UnmarshalKeyRecord(v)
	if err != nil {
		return store.KeyRecord{}, fmt.Errorf("decoding key record: %w", err)
	}
	return store.KeyRecord{
		Fingerprint: m.Fingerprint,
		PublicKey:   m.PublicKey,
		Algorithm:   m.Algorithm,
		Curve:       m.Curve,
		KeySize:     int(m.KeySize),
		CreatedAt:   fromUnixNano(m.CreatedAtUnixNano),
		RetiredAt:   fromUnixNano(m.RetiredAtUnixNano),
	}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
