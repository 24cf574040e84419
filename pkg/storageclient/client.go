package storageclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/privatestorage/zkapauthorizer/pkg/pass"
	"github.com/privatestorage/zkapauthorizer/pkg/spending"
	"github.com/privatestorage/zkapauthorizer/pkg/storageproto"
	"github.com/privatestorage/zkapauthorizer/pkg/storageserver"
	"github.com/privatestorage/zkapauthorizer/pkg/zkapcost"
)

// Client is the authorized storage client: it offers the same operations
// as the underlying object-store protocol, transparently spending passes
// drawn from a spending.Controller for every write-like call.
type Client struct {
	furl         string
	getRemote    GetRemote
	controller   *spending.Controller
	bytesPerPass int64
	log          *zap.Logger
}

// NewClient builds a Client against a server reachable via getRemote
// (re-resolved on every call), spending passes from controller at the
// given bytesPerPass rate. furl identifies the connection for error
// reporting only.
func NewClient(furl string, getRemote GetRemote, controller *spending.Controller, bytesPerPass int64, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{furl: furl, getRemote: getRemote, controller: controller, bytesPerPass: bytesPerPass, log: log}
}

func (c *Client) resolve() (RemoteStorageServer, error) {
	return c.getRemote.resolve(c.furl)
}

func rawPasses(passes []pass.Pass) [][]byte {
	raw := make([][]byte, len(passes))
	for i, p := range passes {
		raw[i] = p.Bytes()
	}
	return raw
}

// callWithPasses draws numPasses passes bound to message and invokes
// method repeatedly, substituting fresh passes for any the server reports
// as signature-check failures, until method succeeds, fails for an
// unrelated reason, or the server gives no signature failures to act on
// (mirrors _storage_client.py's call_with_passes).
func (c *Client) callWithPasses(message []byte, numPasses int64, method func(passesRaw [][]byte) error) error {
	group, err := c.controller.Get(message, int(numPasses))
	if err != nil {
		return fmt.Errorf("storageclient: drawing passes: %w", err)
	}

	for {
		err := method(rawPasses(group.Passes()))
		if err == nil {
			if markErr := group.MarkSpent(); markErr != nil {
				return fmt.Errorf("storageclient: marking passes spent: %w", markErr)
			}
			return nil
		}

		var mpr *storageproto.MorePassesRequired
		if !errors.As(err, &mpr) {
			if resetErr := group.Reset(); resetErr != nil {
				c.log.Warn("resetting pass group after call failure also failed", zap.Error(resetErr))
			}
			return err
		}

		next, replaceErr := c.replaceInvalidPasses(group, mpr)
		if replaceErr != nil {
			if resetErr := group.Reset(); resetErr != nil {
				c.log.Warn("resetting pass group after replacement failure also failed", zap.Error(resetErr))
			}
			return replaceErr
		}
		if next == nil {
			// No signature failures to replace: the call just wanted more
			// passes than we supplied. Burning extra passes speculatively
			// would be unsound, so this propagates rather than retrying.
			if resetErr := group.Reset(); resetErr != nil {
				c.log.Warn("resetting pass group after insufficient-count failure also failed", zap.Error(resetErr))
			}
			return mpr
		}
		group = next
	}
}

// replaceInvalidPasses splits the rejected passes out of group, marks them
// invalid, and expands the remainder with fresh replacements. It returns
// (nil, nil) when mpr names no rejected passes at all.
func (c *Client) replaceInvalidPasses(group *spending.PassGroup, mpr *storageproto.MorePassesRequired) (*spending.PassGroup, error) {
	if len(mpr.SignatureCheckFailed) == 0 {
		return nil, nil
	}
	rejected, ok := group.Split(mpr.SignatureCheckFailed)
	if err := rejected.MarkInvalid("signature check failed"); err != nil {
		return nil, fmt.Errorf("storageclient: marking rejected passes invalid: %w", err)
	}
	expanded, err := ok.Expand(len(mpr.SignatureCheckFailed))
	if err != nil {
		return nil, fmt.Errorf("storageclient: expanding pass group: %w", err)
	}
	return expanded, nil
}

// AllocateBuckets authorizes and performs bucket allocation for
// storageIndex. Cost: required_passes(bytesPerPass, [allocatedSize] *
// len(sharenums)).
func (c *Client) AllocateBuckets(ctx context.Context, storageIndex []byte, sharenums []uint64, allocatedSize int64) (alreadyHave, allocated []uint64, err error) {
	remote, err := c.resolve()
	if err != nil {
		return nil, nil, err
	}

	sizes := make(zkapcost.OrderedSizes, len(sharenums))
	for i := range sharenums {
		sizes[i] = allocatedSize
	}
	numPasses, err := zkapcost.RequiredPasses(c.bytesPerPass, sizes)
	if err != nil {
		return nil, nil, err
	}

	message := storageproto.BindingMessage(storageproto.OpAllocateBuckets, storageIndex)
	err = c.callWithPasses(message, numPasses, func(passesRaw [][]byte) error {
		var callErr error
		alreadyHave, allocated, callErr = remote.AllocateBuckets(ctx, passesRaw, storageIndex, sharenums, allocatedSize)
		return callErr
	})
	return alreadyHave, allocated, err
}

// GetBuckets is not pass-authorized.
func (c *Client) GetBuckets(ctx context.Context, storageIndex []byte) ([]uint64, error) {
	remote, err := c.resolve()
	if err != nil {
		return nil, err
	}
	return remote.GetBuckets(ctx, storageIndex)
}

// ShareSizes is not pass-authorized.
func (c *Client) ShareSizes(ctx context.Context, storageIndex []byte, sharenums map[uint64]struct{}) (map[uint64]int64, error) {
	remote, err := c.resolve()
	if err != nil {
		return nil, err
	}
	return remote.ShareSizes(ctx, storageIndex, sharenums)
}

// AddLease authorizes and performs a lease addition for storageIndex.
// Cost: required_passes(bytesPerPass, current share sizes).
func (c *Client) AddLease(ctx context.Context, storageIndex []byte) error {
	return c.leaseOperation(ctx, storageproto.OpAddLease, storageIndex, func(remote RemoteStorageServer, passesRaw [][]byte) error {
		return remote.AddLease(ctx, passesRaw, storageIndex)
	})
}

// RenewLease authorizes and performs a lease renewal for storageIndex.
// Cost: the same as AddLease.
func (c *Client) RenewLease(ctx context.Context, storageIndex []byte) error {
	return c.leaseOperation(ctx, storageproto.OpRenewLease, storageIndex, func(remote RemoteStorageServer, passesRaw [][]byte) error {
		return remote.RenewLease(ctx, passesRaw, storageIndex)
	})
}

func (c *Client) leaseOperation(ctx context.Context, op string, storageIndex []byte, do func(remote RemoteStorageServer, passesRaw [][]byte) error) error {
	remote, err := c.resolve()
	if err != nil {
		return err
	}

	sizeMap, err := remote.ShareSizes(ctx, storageIndex, nil)
	if err != nil {
		return err
	}
	sizes := make(zkapcost.OrderedSizes, 0, len(sizeMap))
	for _, size := range sizeMap {
		sizes = append(sizes, size)
	}
	numPasses, err := zkapcost.RequiredPasses(c.bytesPerPass, sizes)
	if err != nil {
		return err
	}

	message := storageproto.BindingMessage(op, storageIndex)
	return c.callWithPasses(message, numPasses, func(passesRaw [][]byte) error {
		return do(remote, passesRaw)
	})
}

// SlotTestvAndReadvAndWritev authorizes and performs a mutable-slot
// operation. A call with no write vectors is a pure read and costs
// nothing.
func (c *Client) SlotTestvAndReadvAndWritev(ctx context.Context, storageIndex []byte, tw storageserver.TestWriteVectors, rVector []storageserver.ReadVector) (bool, map[uint64][][]byte, error) {
	remote, err := c.resolve()
	if err != nil {
		return false, nil, err
	}

	if len(tw.WriteVectors) == 0 {
		return remote.SlotTestvAndReadvAndWritev(ctx, nil, storageIndex, tw, rVector)
	}

	sharenums := make(map[uint64]struct{}, len(tw.WriteVectors))
	for sharenum := range tw.WriteVectors {
		sharenums[sharenum] = struct{}{}
	}
	currentSizes, err := remote.ShareSizes(ctx, storageIndex, sharenums)
	if err != nil {
		return false, nil, err
	}
	numPasses, err := zkapcost.RequiredNewPassesForMutableWrite(c.bytesPerPass, currentSizes, tw.WriteVectors)
	if err != nil {
		return false, nil, err
	}

	message := storageproto.BindingMessage(storageproto.OpMutableWrite, storageIndex)
	var ok bool
	var reads map[uint64][][]byte
	err = c.callWithPasses(message, numPasses, func(passesRaw [][]byte) error {
		var callErr error
		ok, reads, callErr = remote.SlotTestvAndReadvAndWritev(ctx, passesRaw, storageIndex, tw, rVector)
		return callErr
	})
	return ok, reads, err
}

// StatShares is not pass-authorized.
func (c *Client) StatShares(ctx context.Context, storageIndexes [][]byte) ([]storageserver.StatSharesResult, error) {
	remote, err := c.resolve()
	if err != nil {
		return nil, err
	}
	return remote.StatShares(ctx, storageIndexes)
}

// AdviseCorruptShare is not pass-authorized.
func (c *Client) AdviseCorruptShare(ctx context.Context, shareType string, storageIndex []byte, shnum uint64, reason string) error {
	remote, err := c.resolve()
	if err != nil {
		return err
	}
	return remote.AdviseCorruptShare(ctx, shareType, storageIndex, shnum, reason)
}
