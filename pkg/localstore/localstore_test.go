package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/privatestorage/zkapauthorizer/pkg/storageproto"
	"github.com/privatestorage/zkapauthorizer/pkg/storageserver"
	"github.com/privatestorage/zkapauthorizer/pkg/zkapcost"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "shares.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllocateBucketsThenGetBuckets(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	storageIndex := []byte("si-1")

	alreadyHave, allocated, err := s.AllocateBuckets(ctx, storageIndex, []uint64{0, 1, 2}, 1000)
	require.NoError(t, err)
	require.Empty(t, alreadyHave)
	require.ElementsMatch(t, []uint64{0, 1, 2}, allocated)

	alreadyHave, allocated, err = s.AllocateBuckets(ctx, storageIndex, []uint64{0, 3}, 1000)
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, alreadyHave)
	require.Equal(t, []uint64{3}, allocated)

	got, err := s.GetBuckets(ctx, storageIndex)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{0, 1, 2, 3}, got)
}

func TestShareSizesFiltersBySharenums(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	storageIndex := []byte("si-1")
	_, _, err := s.AllocateBuckets(ctx, storageIndex, []uint64{0, 1}, 500)
	require.NoError(t, err)

	sizes, err := s.ShareSizes(ctx, storageIndex, map[uint64]struct{}{0: {}})
	require.NoError(t, err)
	require.Equal(t, map[uint64]int64{0: 500}, sizes)
}

func TestSlotWritesThenReads(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	storageIndex := []byte("slot-1")

	tw := storageserver.TestWriteVectors{
		WriteVectors: map[uint64][]zkapcost.WriteVector{
			0: {{Offset: 0, Data: []byte("hello")}},
		},
	}
	ok, _, err := s.SlotTestvAndReadvAndWritev(ctx, storageIndex, tw, nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, reads, err := s.SlotTestvAndReadvAndWritev(ctx, storageIndex, storageserver.TestWriteVectors{}, []storageserver.ReadVector{{Offset: 0, Length: 5}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte("hello")}, reads[0])
}

func TestFailedTestVectorBlocksWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	storageIndex := []byte("slot-2")

	tw := storageserver.TestWriteVectors{
		TestVectors: map[uint64][]storageserver.TestVector{
			0: {{Offset: 0, Data: []byte("nope")}},
		},
		WriteVectors: map[uint64][]zkapcost.WriteVector{
			0: {{Offset: 0, Data: []byte("hello")}},
		},
	}
	ok, _, err := s.SlotTestvAndReadvAndWritev(ctx, storageIndex, tw, nil)
	require.NoError(t, err)
	require.False(t, ok)

	sizes, err := s.ShareSizes(ctx, storageIndex, nil)
	require.NoError(t, err)
	require.Empty(t, sizes)
}

func TestStatSharesReportsInvalidShareForMalformedRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	storageIndex := []byte("si-corrupt")
	_, _, err := s.AllocateBuckets(ctx, storageIndex, []uint64{0}, 10)
	require.NoError(t, err)

	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.indexBucket(tx, storageIndex, false)
		if err != nil {
			return err
		}
		return b.Put(sharenumKey(0), []byte("not json"))
	}))

	results, err := s.StatShares(ctx, [][]byte{storageIndex})
	require.NoError(t, err)
	require.Len(t, results, 1)

	var invalidShare *storageproto.InvalidShare
	require.ErrorAs(t, results[0].Err, &invalidShare)
	require.Equal(t, storageIndex, invalidShare.StorageIndex)
}

func TestStatSharesReportsSizeAndLease(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	storageIndex := []byte("si-1")
	_, _, err := s.AllocateBuckets(ctx, storageIndex, []uint64{0}, 42)
	require.NoError(t, err)
	require.NoError(t, s.AddLease(ctx, storageIndex))

	results, err := s.StatShares(ctx, [][]byte{storageIndex})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, int64(42), results[0].Shares[0].Size)
	require.Greater(t, results[0].Shares[0].LeaseExpiration, int64(0))
}
