// Package leadership produces blocks on the slots scheduled to local leaders.
package leadership

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
)

// ErrDuplicateSecret is returned when two secret files hold the same key.
var ErrDuplicateSecret = errors.New("duplicate leader secret")

// Enclave holds the local leader keys. Keys never leave the enclave; callers
// get a crypto.Signer for a scheduled public key.
type Enclave struct {
	mu   sync.RWMutex
	keys map[string]*crypto.PrivateKey // hex(pubkey) -> key
}

// NewEnclave creates an enclave holding keys.
func NewEnclave(keys ...*crypto.PrivateKey) (*Enclave, error) {
	e := &Enclave{keys: make(map[string]*crypto.PrivateKey, len(keys))}
	for _, k := range keys {
		if err := e.add(k); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadSecrets reads one hex-encoded secp256k1 private key from each file.
func LoadSecrets(paths []string) (*Enclave, error) {
	e := &Enclave{keys: make(map[string]*crypto.PrivateKey, len(paths))}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read secret %s: %w", path, err)
		}
		key, err := crypto.PrivateKeyFromHex(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse secret %s: %w", path, err)
		}
		if err := e.add(key); err != nil {
			return nil, fmt.Errorf("secret %s: %w", path, err)
		}
	}
	return e, nil
}

func (e *Enclave) add(k *crypto.PrivateKey) error {
	id := hex.EncodeToString(k.PublicKey())
	if _, dup := e.keys[id]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateSecret, id)
	}
	e.keys[id] = k
	return nil
}

// Signer returns the signer for pub if the enclave holds its key.
func (e *Enclave) Signer(pub []byte) (crypto.Signer, bool) {
	if len(pub) == 0 {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	k, ok := e.keys[hex.EncodeToString(pub)]
	return k, ok
}

// Len returns the number of leader keys held.
func (e *Enclave) Len() int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.keys)
}

// PublicKeys returns the hex public keys held, sorted.
func (e *Enclave) PublicKeys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.keys))
	for id := range e.keys {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Zero wipes every key.
func (e *Enclave) Zero() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, k := range e.keys {
		k.Zero()
		delete(e.keys, id)
	}
}
