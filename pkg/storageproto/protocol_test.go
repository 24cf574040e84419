package storageproto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindingMessageDistinguishesOperations(t *testing.T) {
	si := []byte("storage-index-1")
	a := BindingMessage(OpAllocateBuckets, si)
	b := BindingMessage(OpAddLease, si)
	require.NotEqual(t, a, b)
}

func TestBindingMessageDistinguishesStorageIndex(t *testing.T) {
	a := BindingMessage(OpAllocateBuckets, []byte("si-1"))
	b := BindingMessage(OpAllocateBuckets, []byte("si-2"))
	require.NotEqual(t, a, b)
}

func TestMorePassesRequiredError(t *testing.T) {
	err := &MorePassesRequired{ValidCount: 3, RequiredCount: 5, SignatureCheckFailed: []int{1, 3}}
	require.Contains(t, err.Error(), "3")
	require.Contains(t, err.Error(), "5")
}

func TestInvalidShareUnwraps(t *testing.T) {
	cause := errors.New("truncated header")
	err := &InvalidShare{StorageIndex: []byte{0x01}, Cause: cause}
	require.ErrorIs(t, err, cause)
}
