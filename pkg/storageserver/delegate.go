// Package storageserver implements the server side of the authorized
// storage protocol: verifying submitted passes, enforcing sufficiency,
// and -- only once admission fully succeeds -- delegating to the
// underlying, non-authorized object-store implementation.
package storageserver

import (
	"context"

	"github.com/privatestorage/zkapauthorizer/pkg/zkapcost"
)

// ShareStat is the observable state of one share within a bucket or
// slot, as reported by StatShares.
type ShareStat struct {
	Size            int64
	LeaseExpiration int64
}

// StatSharesResult is one storage index's entry in a StatShares
// response: either its per-share stats, or the reason it couldn't be
// read.
type StatSharesResult struct {
	Shares map[uint64]ShareStat
	Err    error
}

// Delegate is the underlying Tahoe-LAFS-style object-store protocol this
// server augments with pass admission. It is treated as an external,
// already-implemented collaborator (spec.md §1): everything about how
// buckets and slots are actually stored on disk happens behind this
// interface.
type Delegate interface {
	// AllocateBuckets creates (or resumes) immutable buckets for
	// sharenums at storageIndex, each of size allocatedSize, returning
	// the subset of sharenums that still need data written.
	AllocateBuckets(ctx context.Context, storageIndex []byte, sharenums []uint64, allocatedSize int64) (alreadyHave, allocated []uint64, err error)

	// GetBuckets returns the share numbers available at storageIndex.
	GetBuckets(ctx context.Context, storageIndex []byte) ([]uint64, error)

	// ShareSizes reports the current stored size of each requested share
	// at storageIndex. A nil/empty sharenums set means "all shares".
	ShareSizes(ctx context.Context, storageIndex []byte, sharenums map[uint64]struct{}) (map[uint64]int64, error)

	// AddLease adds a fresh lease to every share at storageIndex.
	AddLease(ctx context.Context, storageIndex []byte) error

	// RenewLease renews the existing lease on every share at
	// storageIndex.
	RenewLease(ctx context.Context, storageIndex []byte) error

	// SlotTestvAndReadvAndWritev performs the test/read/write vector
	// operation against a mutable slot, returning whether the test
	// vectors passed and the data read by rVector.
	SlotTestvAndReadvAndWritev(ctx context.Context, storageIndex []byte, testAndWrite TestWriteVectors, readVector []ReadVector) (testedOK bool, reads map[uint64][][]byte, err error)

	// StatShares reports size/lease-expiration for every share at each
	// of storageIndexes, one StatSharesResult per index in the same
	// order. A malformed on-disk share file fails only that index's
	// result (its Err is an *storageproto.InvalidShare), never the whole
	// call.
	StatShares(ctx context.Context, storageIndexes [][]byte) ([]StatSharesResult, error)

	// AdviseCorruptShare records a client's report that a share looks
	// corrupted. Never pass-authorized.
	AdviseCorruptShare(ctx context.Context, shareType string, storageIndex []byte, shnum uint64, reason string) error
}

// TestWriteVectors is the per-share set of test and write vectors
// submitted with a mutable-slot call.
type TestWriteVectors struct {
	// TestVectors, if non-empty for a share, must all pass against the
	// share's current contents for the write to proceed.
	TestVectors  map[uint64][]TestVector
	WriteVectors map[uint64][]zkapcost.WriteVector
}

// TestVector asserts that the bytes at Offset in a share equal Data
// before any write is applied.
type TestVector struct {
	Offset int64
	Data   []byte
}

// ReadVector requests Length bytes starting at Offset from a share.
type ReadVector struct {
	Offset int64
	Length int64
}
