// Package pass defines the wire representation of a single spendable
// authorization token (a "pass"). The codec is structural only: it knows
// the fixed length of a pass and how to slice it into its two halves, but
// treats the bytes of each half as opaque, leaving the blind-signature
// cryptography that produced them to the signing oracle.
package pass

import (
	"encoding/base64"
	"fmt"
)

// Length is the size, in bytes, of a single encoded pass: a preimage half
// concatenated with an unblinded-signature half.
const Length = 177

// PreimageLength is the size of the preimage half of a pass.
const PreimageLength = 96

// SignatureLength is the size of the unblinded-signature half of a pass.
const SignatureLength = Length - PreimageLength

// Pass is a single-use, request-bound authorization token. Its zero value
// is not valid; construct one with New or Decode.
type Pass [Length]byte

// New builds a Pass from its preimage and signature halves.
func New(preimage, signature []byte) (Pass, error) {
	var p Pass
	if len(preimage) != PreimageLength {
		return p, fmt.Errorf("pass: preimage must be %d bytes, got %d", PreimageLength, len(preimage))
	}
	if len(signature) != SignatureLength {
		return p, fmt.Errorf("pass: signature must be %d bytes, got %d", SignatureLength, len(signature))
	}
	copy(p[:PreimageLength], preimage)
	copy(p[PreimageLength:], signature)
	return p, nil
}

// Decode parses a raw byte string into a Pass, failing if its length is
// anything other than Length. A malformed pass is the caller's cue to
// treat it as a signature-check failure, per the admission state machine.
func Decode(raw []byte) (Pass, error) {
	var p Pass
	if len(raw) != Length {
		return p, fmt.Errorf("pass: expected %d bytes, got %d", Length, len(raw))
	}
	copy(p[:], raw)
	return p, nil
}

// Bytes returns the raw wire encoding of the pass.
func (p Pass) Bytes() []byte {
	out := make([]byte, Length)
	copy(out, p[:])
	return out
}

// Preimage returns the preimage half of the pass.
func (p Pass) Preimage() []byte {
	out := make([]byte, PreimageLength)
	copy(out, p[:PreimageLength])
	return out
}

// Signature returns the unblinded-signature half of the pass.
func (p Pass) Signature() []byte {
	out := make([]byte, SignatureLength)
	copy(out, p[PreimageLength:])
	return out
}

// Text renders the pass in the ASCII-safe wire form used on the RPC
// boundary (base64, standard alphabet, no padding surprises).
func (p Pass) Text() string {
	return base64.StdEncoding.EncodeToString(p[:])
}

// FromText parses the ASCII-safe wire form produced by Text.
func FromText(s string) (Pass, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var zero Pass
		return zero, fmt.Errorf("pass: invalid encoding: %w", err)
	}
	return Decode(raw)
}
