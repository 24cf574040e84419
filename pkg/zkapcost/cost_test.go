package zkapcost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequiredPassesCostOfAllocate(t *testing.T) {
	// Scenario 1 from the spec: bytes_per_pass = 128 * 1024, allocate 3
	// shares each of size 100_000. Required passes = ceil(300_000 / 131_072) = 3.
	n, err := RequiredPasses(128*1024, FromSlice([]int64{100_000, 100_000, 100_000}))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestRequiredPassesExact(t *testing.T) {
	n, err := RequiredPasses(10, FromSlice([]int64{10, 10, 10}))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestRequiredPassesZero(t *testing.T) {
	n, err := RequiredPasses(10, FromSlice(nil))
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestRequiredPassesRejectsBadBytesPerPass(t *testing.T) {
	_, err := RequiredPasses(0, FromSlice([]int64{1}))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRequiredPassesRejectsNegativeSize(t *testing.T) {
	_, err := RequiredPasses(10, FromSlice([]int64{-1}))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRequiredNewPassesForMutableWriteReadOnly(t *testing.T) {
	n, err := RequiredNewPassesForMutableWrite(1024, map[uint64]int64{0: 500}, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestRequiredNewPassesForMutableWriteGrowth(t *testing.T) {
	// Lease-renewal-cost-style scenario: a 300_000 byte share growing by
	// some extra bytes with bytes_per_pass = 131_072.
	currentSizes := map[uint64]int64{0: 300_000}
	writes := map[uint64][]WriteVector{
		0: {{Offset: 300_000, Data: make([]byte, 100_000)}},
	}
	n, err := RequiredNewPassesForMutableWrite(131_072, currentSizes, writes)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRequiredNewPassesForMutableWriteOverwriteWithinShareIsFree(t *testing.T) {
	currentSizes := map[uint64]int64{0: 300_000}
	writes := map[uint64][]WriteVector{
		0: {{Offset: 0, Data: make([]byte, 10)}},
	}
	n, err := RequiredNewPassesForMutableWrite(131_072, currentSizes, writes)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestRequiredNewPassesForMutableWriteNewShare(t *testing.T) {
	writes := map[uint64][]WriteVector{
		0: {{Offset: 0, Data: make([]byte, 200_000)}},
	}
	n, err := RequiredNewPassesForMutableWrite(131_072, nil, writes)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}
