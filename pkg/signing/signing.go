// Package signing isolates the blind-signature cryptography the rest of
// this repository treats as an external black box (spec §1: "the core
// does not itself implement ... the blind-signature cryptography"). It
// defines the minting/verification oracle interface the spending
// controller and the admission server depend on, plus a reference
// implementation and the deterministic pass-fingerprinting helper used
// for double-spend detection.
//
// The reference Oracle below is not a blind-signature scheme: it is an
// HMAC-based stand-in good enough to drive the rest of the system (and
// its tests) through the same interface a real privacy-pass
// implementation would satisfy. Swapping in a real scheme means providing
// another Oracle, not touching any other package.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/privatestorage/zkapauthorizer/pkg/pass"
)

// Oracle mints unblinded tokens into passes bound to a message, and
// verifies that a pass's signature half is valid for the message it
// claims to be bound to. Everything about the blinding/unblinding
// protocol that produced the tokens happened upstream of this interface.
type Oracle interface {
	// Mint produces one pass per token, each bound to message.
	Mint(message []byte, tokens [][]byte) ([]pass.Pass, error)

	// Verify reports whether p's signature half is valid for message.
	Verify(message []byte, p pass.Pass) bool
}

// HMACOracle is a reference Oracle implementation. It signs a token's
// preimage, keyed by a server secret and the binding message, with
// HMAC-SHA512. A single 64-byte digest is shorter than
// pass.SignatureLength, so digests over a trailing counter byte (0, 1, ...)
// are concatenated and the result truncated to pass.SignatureLength
// bytes. This stands in for
// the real unblinded-signature verification the production system
// performs against a PrivacyPass key; the server secret here plays the
// role of that key's private half.
type HMACOracle struct {
	key []byte
}

// NewHMACOracle constructs an Oracle keyed by secret. The secret never
// leaves this package.
func NewHMACOracle(secret []byte) *HMACOracle {
	key := make([]byte, len(secret))
	copy(key, secret)
	return &HMACOracle{key: key}
}

// GenerateSecret produces a fresh random secret suitable for NewHMACOracle.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("signing: generating secret: %w", err)
	}
	return secret, nil
}

// LoadOrGenerateSecret reads a hex-encoded secret from path, generating
// and persisting a fresh one if the file doesn't exist yet. This keeps
// the HMACOracle's key stable across restarts of a long-running
// process, the same way a real signing key would be durable.
func LoadOrGenerateSecret(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		secret, decodeErr := hex.DecodeString(string(raw))
		if decodeErr != nil {
			return nil, fmt.Errorf("signing: decoding secret at %s: %w", path, decodeErr)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("signing: reading secret at %s: %w", path, err)
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("signing: creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return nil, fmt.Errorf("signing: writing secret at %s: %w", path, err)
	}
	return secret, nil
}

func (o *HMACOracle) sign(message, preimage []byte) []byte {
	out := make([]byte, 0, pass.SignatureLength+sha512.Size)
	for counter := byte(0); len(out) < pass.SignatureLength; counter++ {
		mac := hmac.New(sha512.New, o.key)
		mac.Write(message)
		mac.Write(preimage)
		mac.Write([]byte{counter})
		out = mac.Sum(out)
	}
	return out[:pass.SignatureLength]
}

// Mint implements Oracle. Each token becomes the preimage half of a pass
// (padded/truncated to pass.PreimageLength), bound to message via the
// HMAC signature half.
func (o *HMACOracle) Mint(message []byte, tokens [][]byte) ([]pass.Pass, error) {
	passes := make([]pass.Pass, 0, len(tokens))
	for _, token := range tokens {
		preimage := make([]byte, pass.PreimageLength)
		copy(preimage, token)
		sig := o.sign(message, preimage)
		p, err := pass.New(preimage, sig)
		if err != nil {
			return nil, fmt.Errorf("signing: minting pass: %w", err)
		}
		passes = append(passes, p)
	}
	return passes, nil
}

// Verify implements Oracle.
func (o *HMACOracle) Verify(message []byte, p pass.Pass) bool {
	expected := o.sign(message, p.Preimage())
	return hmac.Equal(expected, p.Signature())
}

// Fingerprint256 is the deterministic fingerprint of a pass used to key
// the admission server's spent-pass set (spec §4.4). It depends only on
// the pass's bytes, so replaying the exact same pass across calls always
// yields the same fingerprint, while two distinct passes practically
// never collide.
func Fingerprint256(p pass.Pass) [32]byte {
	return blake2b.Sum256(p.Bytes())
}
