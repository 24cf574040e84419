// Package storageclient implements the client side of the authorized
// storage protocol: RIPrivacyPassAuthorizedStorageServer. It presents the
// same operations as the underlying (non-authorized) object-store
// protocol but transparently attaches passes to every write-like call and
// retries with replacement passes when the server rejects some of them.
package storageclient

import (
	"context"

	"github.com/privatestorage/zkapauthorizer/pkg/storageproto"
	"github.com/privatestorage/zkapauthorizer/pkg/storageserver"
)

// RemoteStorageServer is the wire-level counterpart of storageserver.Server:
// a connection to a single remote storage server, resolved fresh for every
// call so a dropped and reconnected connection is handled transparently
// (spec.md §4.5). Implementations wrap whatever RPC transport actually
// carries these calls; in this repository's tests it is satisfied directly
// by an in-process *storageserver.Server.
type RemoteStorageServer interface {
	// InterfaceName is the remote interface name this connection
	// advertises. The client refuses to use a connection whose name
	// doesn't match storageproto.ExpectedInterfaceName.
	InterfaceName() string

	AllocateBuckets(ctx context.Context, passesRaw [][]byte, storageIndex []byte, sharenums []uint64, allocatedSize int64) (alreadyHave, allocated []uint64, err error)
	GetBuckets(ctx context.Context, storageIndex []byte) ([]uint64, error)
	ShareSizes(ctx context.Context, storageIndex []byte, sharenums map[uint64]struct{}) (map[uint64]int64, error)
	AddLease(ctx context.Context, passesRaw [][]byte, storageIndex []byte) error
	RenewLease(ctx context.Context, passesRaw [][]byte, storageIndex []byte) error
	SlotTestvAndReadvAndWritev(ctx context.Context, passesRaw [][]byte, storageIndex []byte, tw storageserver.TestWriteVectors, rVector []storageserver.ReadVector) (bool, map[uint64][][]byte, error)
	StatShares(ctx context.Context, storageIndexes [][]byte) ([]storageserver.StatSharesResult, error)
	AdviseCorruptShare(ctx context.Context, shareType string, storageIndex []byte, shnum uint64, reason string) error
}

// GetRemote resolves the current connection to a storage server. It is
// called once per Client method invocation (spec.md's "resolved fresh
// every call") so that reconnection is handled below the client.
type GetRemote func() (RemoteStorageServer, error)

func (g GetRemote) resolve(furl string) (RemoteStorageServer, error) {
	remote, err := g()
	if err != nil {
		return nil, err
	}
	if name := remote.InterfaceName(); name != storageproto.ExpectedInterfaceName {
		return nil, &storageproto.IncorrectStorageServerReference{
			FURL:         furl,
			ActualName:   name,
			ExpectedName: storageproto.ExpectedInterfaceName,
		}
	}
	return remote, nil
}
