package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Key and digest sizes.
const (
	SecretSize    = 32
	PublicKeySize = 33
	DigestSize    = 32
)

var (
	ErrSecretSize = errors.New("leader secret must be 32 bytes")
	ErrDigestSize = errors.New("signed digest must be 32 bytes")
)

// Signer produces BIP-340 Schnorr signatures over 32-byte digests.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
	PublicKey() []byte // compressed
}

// PrivateKey is a secp256k1 leader secret.
type PrivateKey struct {
	k *secp256k1.PrivateKey
}

// GenerateKey returns a fresh random secret.
func GenerateKey() (*PrivateKey, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{k}, nil
}

// PrivateKeyFromBytes wraps a 32-byte secret scalar.
func PrivateKeyFromBytes(secret []byte) (*PrivateKey, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("%w, got %d", ErrSecretSize, len(secret))
	}
	return &PrivateKey{secp256k1.PrivKeyFromBytes(secret)}, nil
}

// PrivateKeyFromHex parses the hex form written to secret files, with
// surrounding whitespace allowed.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("leader secret: %w", err)
	}
	return PrivateKeyFromBytes(raw)
}

func (pk *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if len(digest) != DigestSize {
		return nil, fmt.Errorf("%w, got %d", ErrDigestSize, len(digest))
	}
	sig, err := schnorr.Sign(pk.k, digest)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

func (pk *PrivateKey) PublicKey() []byte { return pk.k.PubKey().SerializeCompressed() }

// Serialize returns the secret scalar.
func (pk *PrivateKey) Serialize() []byte { return pk.k.Serialize() }

// Zero wipes the secret from memory. The key is unusable afterwards.
func (pk *PrivateKey) Zero() { pk.k.Zero() }

// ValidatePublicKey checks that b is a point on the curve in compressed form.
func ValidatePublicKey(b []byte) error {
	if len(b) != PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	_, err := secp256k1.ParsePubKey(b)
	return err
}

// VerifySignature reports whether sig is pub's signature of digest.
// Malformed inputs verify as false.
func VerifySignature(digest, sig, pub []byte) bool {
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false
	}
	s, err := schnorr.ParseSignature(sig)
	return err == nil && s.Verify(digest, key)
}
