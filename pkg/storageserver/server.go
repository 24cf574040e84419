package storageserver

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/privatestorage/zkapauthorizer/pkg/pass"
	"github.com/privatestorage/zkapauthorizer/pkg/signing"
	"github.com/privatestorage/zkapauthorizer/pkg/storageproto"
	"github.com/privatestorage/zkapauthorizer/pkg/zkapcost"
)

// Server is the admission layer in front of a Delegate storage
// implementation: RIPrivacyPassAuthorizedStorageServer. Every authorized
// method walks the state machine Received -> Structural-OK -> Signed-OK
// -> Sufficient -> Delegated -> Persisted (spec.md §4.4); any failure
// short-circuits to an error response before Delegated, so the
// underlying store is never partially mutated.
type Server struct {
	delegate     Delegate
	oracle       signing.Oracle
	bytesPerPass int64
	spent        *spentSet
	log          *zap.Logger
}

// NewServer constructs a Server. spentSetDB is an already-open bbolt
// database dedicated to this server's durable double-spend record;
// cacheSize bounds the in-memory front cache over it.
func NewServer(delegate Delegate, oracle signing.Oracle, bytesPerPass int64, spentSetDB *bolt.DB, cacheSize int, log *zap.Logger) (*Server, error) {
	spent, err := newSpentSet(spentSetDB, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("storageserver: building spent-pass set: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{delegate: delegate, oracle: oracle, bytesPerPass: bytesPerPass, spent: spent, log: log}, nil
}

// admit runs the verify/sufficiency portion of the state machine
// (Received through Sufficient). On success it returns the validated
// passes' fingerprints, which the caller must pass to commitSpent only
// after the delegated operation itself has succeeded.
func (s *Server) admit(message []byte, passesRaw [][]byte, required int64) ([][32]byte, error) {
	if len(passesRaw) > storageproto.MaxPassesPerCall {
		return nil, fmt.Errorf("storageserver: %d passes exceeds per-call bound of %d", len(passesRaw), storageproto.MaxPassesPerCall)
	}

	var failed []int
	var validCount int
	var fingerprints [][32]byte

	for i, raw := range passesRaw {
		p, err := pass.Decode(raw)
		if err != nil {
			failed = append(failed, i)
			continue
		}
		if !s.oracle.Verify(message, p) {
			failed = append(failed, i)
			continue
		}
		fp := signing.Fingerprint256(p)
		seen, err := s.spent.contains(fp)
		if err != nil {
			return nil, fmt.Errorf("storageserver: checking spent-pass set: %w", err)
		}
		if seen {
			failed = append(failed, i)
			continue
		}
		validCount++
		fingerprints = append(fingerprints, fp)
	}

	if int64(validCount) < required {
		s.log.Info("admission failed: more passes required",
			zap.Int("validCount", validCount),
			zap.Int64("requiredCount", required),
			zap.Ints("signatureCheckFailed", failed),
		)
		return nil, &storageproto.MorePassesRequired{
			ValidCount:           validCount,
			RequiredCount:        int(required),
			SignatureCheckFailed: failed,
		}
	}
	return fingerprints, nil
}

func (s *Server) commitSpent(fingerprints [][32]byte) error {
	if len(fingerprints) == 0 {
		return nil
	}
	return s.spent.commit(fingerprints)
}

// AllocateBuckets is the authorized variant of the underlying delegate
// operation: cost = required_passes(bytesPerPass, [allocatedSize]*len(sharenums)).
func (s *Server) AllocateBuckets(ctx context.Context, passesRaw [][]byte, storageIndex []byte, sharenums []uint64, allocatedSize int64) (alreadyHave, allocated []uint64, err error) {
	sizes := make(zkapcost.OrderedSizes, len(sharenums))
	for i := range sharenums {
		sizes[i] = allocatedSize
	}
	required, err := zkapcost.RequiredPasses(s.bytesPerPass, sizes)
	if err != nil {
		return nil, nil, err
	}

	message := storageproto.BindingMessage(storageproto.OpAllocateBuckets, storageIndex)
	fingerprints, err := s.admit(message, passesRaw, required)
	if err != nil {
		return nil, nil, err
	}

	alreadyHave, allocated, err = s.delegate.AllocateBuckets(ctx, storageIndex, sharenums, allocatedSize)
	if err != nil {
		return nil, nil, err
	}
	if err := s.commitSpent(fingerprints); err != nil {
		return nil, nil, fmt.Errorf("storageserver: committing spent passes: %w", err)
	}
	return alreadyHave, allocated, nil
}

// GetBuckets is not pass-authorized.
func (s *Server) GetBuckets(ctx context.Context, storageIndex []byte) ([]uint64, error) {
	return s.delegate.GetBuckets(ctx, storageIndex)
}

// ShareSizes is the auxiliary query authorized clients use to cost
// add_lease/renew_lease/mutable writes. It is itself not pass-authorized.
func (s *Server) ShareSizes(ctx context.Context, storageIndex []byte, sharenums map[uint64]struct{}) (map[uint64]int64, error) {
	return s.delegate.ShareSizes(ctx, storageIndex, sharenums)
}

// AddLease costs required_passes(bytesPerPass, current_share_sizes).
func (s *Server) AddLease(ctx context.Context, passesRaw [][]byte, storageIndex []byte) error {
	return s.authorizeAgainstCurrentSizes(ctx, storageproto.OpAddLease, passesRaw, storageIndex, s.delegate.AddLease)
}

// RenewLease costs the same as AddLease.
func (s *Server) RenewLease(ctx context.Context, passesRaw [][]byte, storageIndex []byte) error {
	return s.authorizeAgainstCurrentSizes(ctx, storageproto.OpRenewLease, passesRaw, storageIndex, s.delegate.RenewLease)
}

func (s *Server) authorizeAgainstCurrentSizes(ctx context.Context, op string, passesRaw [][]byte, storageIndex []byte, do func(context.Context, []byte) error) error {
	sizeMap, err := s.delegate.ShareSizes(ctx, storageIndex, nil)
	if err != nil {
		return err
	}
	sizes := make(zkapcost.OrderedSizes, 0, len(sizeMap))
	for _, size := range sizeMap {
		sizes = append(sizes, size)
	}
	required, err := zkapcost.RequiredPasses(s.bytesPerPass, sizes)
	if err != nil {
		return err
	}

	message := storageproto.BindingMessage(op, storageIndex)
	fingerprints, err := s.admit(message, passesRaw, required)
	if err != nil {
		return err
	}

	if err := do(ctx, storageIndex); err != nil {
		return err
	}
	return s.commitSpent(fingerprints)
}

// SlotTestvAndReadvAndWritev is free when it contains no write vectors
// (a pure read); otherwise it costs
// required_new_passes_for_mutable_write(bytesPerPass, current_sizes, tw_vectors).
func (s *Server) SlotTestvAndReadvAndWritev(ctx context.Context, passesRaw [][]byte, storageIndex []byte, tw TestWriteVectors, rVector []ReadVector) (bool, map[uint64][][]byte, error) {
	if len(tw.WriteVectors) == 0 {
		return s.delegate.SlotTestvAndReadvAndWritev(ctx, storageIndex, tw, rVector)
	}

	sharenums := make(map[uint64]struct{}, len(tw.WriteVectors))
	for sharenum := range tw.WriteVectors {
		sharenums[sharenum] = struct{}{}
	}
	currentSizes, err := s.delegate.ShareSizes(ctx, storageIndex, sharenums)
	if err != nil {
		return false, nil, err
	}

	required, err := zkapcost.RequiredNewPassesForMutableWrite(s.bytesPerPass, currentSizes, tw.WriteVectors)
	if err != nil {
		return false, nil, err
	}

	message := storageproto.BindingMessage(storageproto.OpMutableWrite, storageIndex)
	fingerprints, err := s.admit(message, passesRaw, required)
	if err != nil {
		return false, nil, err
	}

	ok, reads, err := s.delegate.SlotTestvAndReadvAndWritev(ctx, storageIndex, tw, rVector)
	if err != nil {
		return false, nil, err
	}
	if err := s.commitSpent(fingerprints); err != nil {
		return false, nil, fmt.Errorf("storageserver: committing spent passes: %w", err)
	}
	return ok, reads, nil
}

// StatShares is not pass-authorized. A malformed share at one storage
// index fails only that index's StatSharesResult; every such failure
// across the batch is aggregated with multierr so a caller sees all of
// them, not just the first.
func (s *Server) StatShares(ctx context.Context, storageIndexes [][]byte) ([]StatSharesResult, error) {
	results, err := s.delegate.StatShares(ctx, storageIndexes)
	if err != nil {
		return nil, err
	}

	var aggregate error
	for _, r := range results {
		if r.Err != nil {
			aggregate = multierr.Append(aggregate, r.Err)
		}
	}
	return results, aggregate
}

// AdviseCorruptShare is not pass-authorized.
func (s *Server) AdviseCorruptShare(ctx context.Context, shareType string, storageIndex []byte, shnum uint64, reason string) error {
	return s.delegate.AdviseCorruptShare(ctx, shareType, storageIndex, shnum, reason)
}
