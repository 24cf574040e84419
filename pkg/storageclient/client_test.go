package storageclient

import (
	"context"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/privatestorage/zkapauthorizer/pkg/signing"
	"github.com/privatestorage/zkapauthorizer/pkg/spending"
	"github.com/privatestorage/zkapauthorizer/pkg/storageproto"
	"github.com/privatestorage/zkapauthorizer/pkg/storageserver"
)

// fakeDelegate is a minimal in-memory Delegate good enough to drive the
// client's retry loop end to end through a real Server.
type fakeDelegate struct {
	shareSizes map[string]map[uint64]int64
	allocated  map[string][]uint64
}

func (f *fakeDelegate) AllocateBuckets(ctx context.Context, storageIndex []byte, sharenums []uint64, allocatedSize int64) ([]uint64, []uint64, error) {
	if f.allocated == nil {
		f.allocated = map[string][]uint64{}
	}
	f.allocated[string(storageIndex)] = sharenums
	return nil, sharenums, nil
}

func (f *fakeDelegate) GetBuckets(ctx context.Context, storageIndex []byte) ([]uint64, error) {
	return f.allocated[string(storageIndex)], nil
}

func (f *fakeDelegate) ShareSizes(ctx context.Context, storageIndex []byte, sharenums map[uint64]struct{}) (map[uint64]int64, error) {
	return f.shareSizes[string(storageIndex)], nil
}

func (f *fakeDelegate) AddLease(ctx context.Context, storageIndex []byte) error   { return nil }
func (f *fakeDelegate) RenewLease(ctx context.Context, storageIndex []byte) error { return nil }

func (f *fakeDelegate) SlotTestvAndReadvAndWritev(ctx context.Context, storageIndex []byte, tw storageserver.TestWriteVectors, rVector []storageserver.ReadVector) (bool, map[uint64][][]byte, error) {
	return true, nil, nil
}

func (f *fakeDelegate) StatShares(ctx context.Context, storageIndexes [][]byte) ([]storageserver.StatSharesResult, error) {
	return nil, nil
}

func (f *fakeDelegate) AdviseCorruptShare(ctx context.Context, shareType string, storageIndex []byte, shnum uint64, reason string) error {
	return nil
}

// inProcessRemote satisfies RemoteStorageServer by forwarding directly to
// an in-process *storageserver.Server, standing in for what would
// otherwise be a network transport.
type inProcessRemote struct {
	*storageserver.Server
	name string
}

func (r *inProcessRemote) InterfaceName() string { return r.name }

func newTestClient(t *testing.T, delegate *fakeDelegate, bytesPerPass int64) (*Client, *spending.Controller) {
	t.Helper()
	secret, err := signing.GenerateSecret()
	require.NoError(t, err)
	oracle := signing.NewHMACOracle(secret)

	dbPath := filepath.Join(t.TempDir(), "spent.bolt")
	db, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv, err := storageserver.NewServer(delegate, oracle, bytesPerPass, db, 128, nil)
	require.NoError(t, err)

	var tokenCounter int
	source := func(n int) ([][]byte, error) {
		tokens := make([][]byte, n)
		for i := range tokens {
			tokens[i] = []byte{byte(tokenCounter), byte(tokenCounter >> 8), byte(i)}
			tokenCounter++
		}
		return tokens, nil
	}
	controller := spending.NewController(source, oracle, nil)

	getRemote := func() (RemoteStorageServer, error) {
		return &inProcessRemote{Server: srv, name: storageproto.ExpectedInterfaceName}, nil
	}
	client := NewClient("pb://test", getRemote, controller, bytesPerPass, nil)
	return client, controller
}

func TestAllocateBucketsSucceedsWithComputedPassCount(t *testing.T) {
	delegate := &fakeDelegate{}
	client, _ := newTestClient(t, delegate, 128*1024)

	_, allocated, err := client.AllocateBuckets(context.Background(), []byte("si-1"), []uint64{0, 1, 2}, 100_000)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2}, allocated)
}

func TestSlotReadIsFree(t *testing.T) {
	delegate := &fakeDelegate{}
	client, _ := newTestClient(t, delegate, 1024)

	ok, _, err := client.SlotTestvAndReadvAndWritev(context.Background(), []byte("si"), storageserver.TestWriteVectors{}, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

// corruptingRemote wraps a RemoteStorageServer and, on its first
// AllocateBuckets call only, flips a byte in each pass named by
// corruptIndices before forwarding it on -- standing in for a server that
// reports a subset of submitted passes as signature-check failures.
type corruptingRemote struct {
	RemoteStorageServer
	corruptIndices []int
	calls          int
}

func (r *corruptingRemote) AllocateBuckets(ctx context.Context, passesRaw [][]byte, storageIndex []byte, sharenums []uint64, allocatedSize int64) (alreadyHave, allocated []uint64, err error) {
	r.calls++
	if r.calls == 1 {
		corrupted := append([][]byte(nil), passesRaw...)
		for _, i := range r.corruptIndices {
			raw := append([]byte(nil), corrupted[i]...)
			raw[0] ^= 0xff
			corrupted[i] = raw
		}
		passesRaw = corrupted
	}
	return r.RemoteStorageServer.AllocateBuckets(ctx, passesRaw, storageIndex, sharenums, allocatedSize)
}

// counterValue sums a named counter metric's value across all its label
// combinations, failing the test if the metric was never registered.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

// TestAllocateBucketsRetriesAfterPartialPassRejection drives
// callWithPasses' retry branch end to end: the first AllocateBuckets call
// has two of its five passes corrupted in transit, forcing the server to
// report them via MorePassesRequired.SignatureCheckFailed; the client
// splits them out, marks them invalid, mints two replacements, and
// resubmits, which the (now non-corrupting) second call accepts.
func TestAllocateBucketsRetriesAfterPartialPassRejection(t *testing.T) {
	delegate := &fakeDelegate{}
	secret, err := signing.GenerateSecret()
	require.NoError(t, err)
	oracle := signing.NewHMACOracle(secret)

	dbPath := filepath.Join(t.TempDir(), "spent.bolt")
	db, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	const bytesPerPass = 1000
	srv, err := storageserver.NewServer(delegate, oracle, bytesPerPass, db, 128, nil)
	require.NoError(t, err)

	var tokenCounter int
	source := func(n int) ([][]byte, error) {
		tokens := make([][]byte, n)
		for i := range tokens {
			tokens[i] = []byte{byte(tokenCounter), byte(tokenCounter >> 8), byte(i)}
			tokenCounter++
		}
		return tokens, nil
	}
	reg := prometheus.NewRegistry()
	controller := spending.NewController(source, oracle, reg)

	getRemote := func() (RemoteStorageServer, error) {
		base := &inProcessRemote{Server: srv, name: storageproto.ExpectedInterfaceName}
		return &corruptingRemote{RemoteStorageServer: base, corruptIndices: []int{1, 3}}, nil
	}
	client := NewClient("pb://test", getRemote, controller, bytesPerPass, nil)

	sharenums := []uint64{0, 1, 2, 3, 4}
	_, allocated, err := client.AllocateBuckets(context.Background(), []byte("si-retry"), sharenums, bytesPerPass)
	require.NoError(t, err)
	require.ElementsMatch(t, sharenums, allocated)

	require.Equal(t, float64(5), counterValue(t, reg, "zkap_passes_spent_total"))
	require.Equal(t, float64(2), counterValue(t, reg, "zkap_passes_invalid_total"))
}

func TestIncorrectInterfaceNameIsRejected(t *testing.T) {
	getRemote := func() (RemoteStorageServer, error) {
		return &inProcessRemote{name: "some.other.interface"}, nil
	}
	secret, err := signing.GenerateSecret()
	require.NoError(t, err)
	oracle := signing.NewHMACOracle(secret)
	controller := spending.NewController(func(n int) ([][]byte, error) { return nil, nil }, oracle, nil)
	client := NewClient("pb://test", getRemote, controller, 1024, nil)

	_, err = client.GetBuckets(context.Background(), []byte("si"))
	var wrongRef *storageproto.IncorrectStorageServerReference
	require.ErrorAs(t, err, &wrongRef)
}
