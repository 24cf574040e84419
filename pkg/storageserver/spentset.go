package storageserver

import (
	lru "github.com/hashicorp/golang-lru"
	bolt "go.etcd.io/bbolt"
)

var spentBucketName = []byte("spent_passes")

// spentSet is the server-side double-spend record: a durable bbolt
// bucket of pass fingerprints, fronted by a bounded in-memory LRU cache
// so the hot path of a well-behaved client (which never resubmits a
// pass) almost never touches disk. Durability matters here because a
// server restart must not forget which passes were already spent --
// otherwise a client could double-spend across a restart, a soundness
// gap the bare in-memory set in spec.md §4.4 leaves implicit.
type spentSet struct {
	db    *bolt.DB
	cache *lru.Cache
}

func newSpentSet(db *bolt.DB, cacheSize int) (*spentSet, error) {
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(spentBucketName)
		return err
	}); err != nil {
		return nil, err
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &spentSet{db: db, cache: cache}, nil
}

// contains reports whether fingerprint has already been recorded as
// spent.
func (s *spentSet) contains(fingerprint [32]byte) (bool, error) {
	key := string(fingerprint[:])
	if _, ok := s.cache.Get(key); ok {
		return true, nil
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(spentBucketName).Get(fingerprint[:]) != nil
		return nil
	})
	if err != nil {
		return false, err
	}
	if found {
		s.cache.Add(key, struct{}{})
	}
	return found, nil
}

// commit durably records every one of fingerprints as spent.
func (s *spentSet) commit(fingerprints [][32]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(spentBucketName)
		for _, fp := range fingerprints {
			if err := b.Put(fp[:], []byte{1}); err != nil {
				return err
			}
			s.cache.Add(string(fp[:]), struct{}{})
		}
		return nil
	})
}
