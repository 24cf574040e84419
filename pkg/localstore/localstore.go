// Package localstore provides a reference, bbolt-backed implementation
// of storageserver.Delegate: a minimal non-authorized object store good
// enough to run the zkapauthorizer binaries end to end. The real
// production object-store implementation is an external collaborator
// (spec.md §1); this package exists so `zkapauthorizer serve` has
// something concrete to delegate to, the way the teacher ships a real
// default blockchain storage backend rather than only an interface.
package localstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/privatestorage/zkapauthorizer/pkg/storageproto"
	"github.com/privatestorage/zkapauthorizer/pkg/storageserver"
	"github.com/privatestorage/zkapauthorizer/pkg/zkapcost"
)

var (
	sharesRootBucket = []byte("local_store_shares")
	leaseExpiry      = 31 * 24 * time.Hour
)

// Store is a bbolt-backed Delegate. Every storage index gets its own
// nested bucket; every share within it is a JSON-encoded shareRecord
// keyed by its 8-byte big-endian sharenum.
type Store struct {
	db *bolt.DB
}

type shareRecord struct {
	Data            []byte `json:"data"`
	LeaseExpiration int64  `json:"leaseExpiration"`
}

// Open opens (creating if necessary) a local object store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("localstore: opening %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sharesRootBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sharenumKey(sharenum uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, sharenum)
	return key
}

func (s *Store) indexBucket(tx *bolt.Tx, storageIndex []byte, create bool) (*bolt.Bucket, error) {
	root := tx.Bucket(sharesRootBucket)
	if create {
		return root.CreateBucketIfNotExists(storageIndex)
	}
	return root.Bucket(storageIndex), nil
}

// AllocateBuckets implements storageserver.Delegate. Shares not already
// present are created, zero-filled to allocatedSize, and reported as
// newly allocated; shares already present are reported as already-had.
func (s *Store) AllocateBuckets(ctx context.Context, storageIndex []byte, sharenums []uint64, allocatedSize int64) (alreadyHave, allocated []uint64, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.indexBucket(tx, storageIndex, true)
		if err != nil {
			return err
		}
		for _, sharenum := range sharenums {
			key := sharenumKey(sharenum)
			if b.Get(key) != nil {
				alreadyHave = append(alreadyHave, sharenum)
				continue
			}
			rec := shareRecord{Data: make([]byte, allocatedSize)}
			raw, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put(key, raw); err != nil {
				return err
			}
			allocated = append(allocated, sharenum)
		}
		return nil
	})
	return alreadyHave, allocated, err
}

// GetBuckets implements storageserver.Delegate.
func (s *Store) GetBuckets(ctx context.Context, storageIndex []byte) ([]uint64, error) {
	var sharenums []uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.indexBucket(tx, storageIndex, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			sharenums = append(sharenums, binary.BigEndian.Uint64(k))
			return nil
		})
	})
	return sharenums, err
}

// ShareSizes implements storageserver.Delegate. A nil/empty sharenums
// reports every share at storageIndex.
func (s *Store) ShareSizes(ctx context.Context, storageIndex []byte, sharenums map[uint64]struct{}) (map[uint64]int64, error) {
	sizes := make(map[uint64]int64)
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.indexBucket(tx, storageIndex, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			sharenum := binary.BigEndian.Uint64(k)
			if len(sharenums) > 0 {
				if _, ok := sharenums[sharenum]; !ok {
					return nil
				}
			}
			var rec shareRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			sizes[sharenum] = int64(len(rec.Data))
			return nil
		})
	})
	return sizes, err
}

// AddLease implements storageserver.Delegate by stamping a fresh
// lease-expiration on every share at storageIndex.
func (s *Store) AddLease(ctx context.Context, storageIndex []byte) error {
	return s.touchLeases(storageIndex)
}

// RenewLease implements storageserver.Delegate identically to AddLease:
// this reference store doesn't distinguish a first lease from a renewal.
func (s *Store) RenewLease(ctx context.Context, storageIndex []byte) error {
	return s.touchLeases(storageIndex)
}

func (s *Store) touchLeases(storageIndex []byte) error {
	expiration := time.Now().Add(leaseExpiry).Unix()
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.indexBucket(tx, storageIndex, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec shareRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			rec.LeaseExpiration = expiration
			raw, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			return b.Put(k, raw)
		})
	})
}

// SlotTestvAndReadvAndWritev implements storageserver.Delegate: test
// vectors are checked against current contents, and only if every one
// passes are the write vectors applied. Read vectors are applied to every
// share stored at storageIndex.
func (s *Store) SlotTestvAndReadvAndWritev(ctx context.Context, storageIndex []byte, tw storageserver.TestWriteVectors, rVector []storageserver.ReadVector) (bool, map[uint64][][]byte, error) {
	var testsPassed = true
	reads := make(map[uint64][][]byte)

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.indexBucket(tx, storageIndex, true)
		if err != nil {
			return err
		}

		shares := make(map[uint64]shareRecord)
		loadShare := func(sharenum uint64) (shareRecord, error) {
			if rec, ok := shares[sharenum]; ok {
				return rec, nil
			}
			var rec shareRecord
			if raw := b.Get(sharenumKey(sharenum)); raw != nil {
				if err := json.Unmarshal(raw, &rec); err != nil {
					return rec, err
				}
			}
			shares[sharenum] = rec
			return rec, nil
		}

		for sharenum, vectors := range tw.TestVectors {
			rec, err := loadShare(sharenum)
			if err != nil {
				return err
			}
			for _, v := range vectors {
				if !testPasses(rec.Data, v) {
					testsPassed = false
				}
			}
		}

		if testsPassed {
			for sharenum, vectors := range tw.WriteVectors {
				rec, err := loadShare(sharenum)
				if err != nil {
					return err
				}
				rec.Data = applyWrites(rec.Data, vectors)
				shares[sharenum] = rec
				raw, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				if err := b.Put(sharenumKey(sharenum), raw); err != nil {
					return err
				}
			}
		}

		for _, rv := range rVector {
			if err := b.ForEach(func(k, _ []byte) error {
				sharenum := binary.BigEndian.Uint64(k)
				rec, err := loadShare(sharenum)
				if err != nil {
					return err
				}
				reads[sharenum] = append(reads[sharenum], readRange(rec.Data, rv))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return testsPassed, reads, err
}

func testPasses(current []byte, v storageserver.TestVector) bool {
	end := v.Offset + int64(len(v.Data))
	if end > int64(len(current)) {
		return false
	}
	for i, b := range v.Data {
		if current[v.Offset+int64(i)] != b {
			return false
		}
	}
	return true
}

func applyWrites(current []byte, vectors []zkapcost.WriteVector) []byte {
	for _, v := range vectors {
		end := v.Offset + int64(len(v.Data))
		if end > int64(len(current)) {
			grown := make([]byte, end)
			copy(grown, current)
			current = grown
		}
		copy(current[v.Offset:], v.Data)
	}
	return current
}

func readRange(data []byte, rv storageserver.ReadVector) []byte {
	end := rv.Offset + rv.Length
	if rv.Offset >= int64(len(data)) {
		return nil
	}
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[rv.Offset:end]
}

// StatShares implements storageserver.Delegate. A share record that
// fails to decode (e.g. a partial write left behind by a crash between
// the Put call and the next read) is reported as an
// *storageproto.InvalidShare for that storage index, rather than
// aborting the whole batch.
func (s *Store) StatShares(ctx context.Context, storageIndexes [][]byte) ([]storageserver.StatSharesResult, error) {
	results := make([]storageserver.StatSharesResult, len(storageIndexes))
	err := s.db.View(func(tx *bolt.Tx) error {
		for i, storageIndex := range storageIndexes {
			b, err := s.indexBucket(tx, storageIndex, false)
			if err != nil {
				return err
			}
			shares := make(map[uint64]storageserver.ShareStat)
			var invalid error
			if b != nil {
				err := b.ForEach(func(k, v []byte) error {
					var rec shareRecord
					if err := json.Unmarshal(v, &rec); err != nil {
						if invalid == nil {
							invalid = &storageproto.InvalidShare{StorageIndex: storageIndex, Cause: err}
						}
						return nil
					}
					shares[binary.BigEndian.Uint64(k)] = storageserver.ShareStat{
						Size:            int64(len(rec.Data)),
						LeaseExpiration: rec.LeaseExpiration,
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			results[i] = storageserver.StatSharesResult{Shares: shares, Err: invalid}
		}
		return nil
	})
	return results, err
}

// AdviseCorruptShare implements storageserver.Delegate as a no-op: this
// reference store has nowhere to record the advisory besides logging,
// which is the caller's responsibility.
func (s *Store) AdviseCorruptShare(ctx context.Context, shareType string, storageIndex []byte, shnum uint64, reason string) error {
	return nil
}
