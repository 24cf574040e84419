// Package storageproto defines the wire-level vocabulary shared by the
// authorized storage client and server: the remote interface name a
// server must advertise, the deterministic binding messages passes are
// minted against, the admission error types, and the bound on how many
// passes may travel with a single call.
package storageproto

import (
	"bytes"
	"fmt"
)

// ExpectedInterfaceName is the remote interface name a storage server
// must advertise for a client to trust it as a pass-authorized storage
// server.
const ExpectedInterfaceName = "RIPrivacyPassAuthorizedStorageServer.tahoe.privatestorage.io"

// MaxPassesPerCall bounds the number of passes accepted on a single
// authorized call. The spec's reference bound is 10; implementations may
// raise it but must enforce some bound.
const MaxPassesPerCall = 10

// Operation tags used to build binding messages. Distinct operations get
// distinct prefixes so a pass minted for one call cannot be replayed on
// another.
const (
	OpAllocateBuckets = "allocate_buckets"
	OpAddLease        = "add_lease"
	OpRenewLease      = "renew_lease"
	OpMutableWrite    = "slot_testv_and_readv_and_writev"
)

// BindingMessage builds the deterministic, UTF-8 byte string a pass must
// be bound to for a call against storageIndex performing op.
func BindingMessage(op string, storageIndex []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(op)
	buf.WriteByte(':')
	buf.Write(storageIndex)
	return buf.Bytes()
}

// MorePassesRequired is the admission error a server returns when the
// passes submitted with a call are insufficient or include ones that
// failed signature verification. It is the only error the client retries.
type MorePassesRequired struct {
	ValidCount           int
	RequiredCount        int
	SignatureCheckFailed []int // 0-based indices, submission order
}

func (e *MorePassesRequired) Error() string {
	return fmt.Sprintf(
		"more passes required: have %d valid of %d required, signature check failed at %v",
		e.ValidCount, e.RequiredCount, e.SignatureCheckFailed,
	)
}

// IncorrectStorageServerReference is returned when a resolved remote
// reference does not advertise ExpectedInterfaceName.
type IncorrectStorageServerReference struct {
	FURL         string
	ActualName   string
	ExpectedName string
}

func (e *IncorrectStorageServerReference) Error() string {
	return fmt.Sprintf(
		"remote reference via %s provides %s instead of %s",
		e.FURL, e.ActualName, e.ExpectedName,
	)
}

// InvalidShare is returned when stat_shares encounters a malformed share
// file (wrong version or truncated header) for a particular storage
// index.
type InvalidShare struct {
	StorageIndex []byte
	Cause        error
}

func (e *InvalidShare) Error() string {
	return fmt.Sprintf("invalid share at storage index %x: %v", e.StorageIndex, e.Cause)
}

func (e *InvalidShare) Unwrap() error {
	return e.Cause
}
