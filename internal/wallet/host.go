package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUserRejected is returned by a LocalExtension configured to refuse consent.
var ErrUserRejected = errors.New("wallet: user rejected the request")

// StaticHost is a map-backed Host.
type StaticHost struct {
	mu         sync.RWMutex
	extensions map[string]Extension
}

// NewStaticHost creates an empty host.
func NewStaticHost() *StaticHost {
	return &StaticHost{extensions: make(map[string]Extension)}
}

// HostFromKeys builds a host exposing a LocalExtension for each key. Blank
// keys are skipped.
func HostFromKeys(keys []string) *StaticHost {
	h := NewStaticHost()
	for _, k := range keys {
		k = strings.TrimSpace(strings.ToLower(k))
		if k == "" {
			continue
		}
		h.Register(k, NewLocalExtension())
	}
	return h
}

// Register exposes ext under key, replacing any previous extension.
func (h *StaticHost) Register(key string, ext Extension) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extensions[key] = ext
}

// Remove withdraws key from the host.
func (h *StaticHost) Remove(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.extensions, key)
}

func (h *StaticHost) Extension(key string) (Extension, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ext, ok := h.extensions[key]
	return ext, ok
}

// LocalExtension is an in-process wallet whose sessions hold a freshly
// generated secp256k1 key.
type LocalExtension struct {
	mu      sync.Mutex
	reject  error
	enables int
}

// NewLocalExtension creates an extension that grants consent.
func NewLocalExtension() *LocalExtension {
	return &LocalExtension{}
}

// Reject makes subsequent Enable calls fail with err. A nil err restores
// consent.
func (l *LocalExtension) Reject(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reject = err
}

// Enables returns how many handshakes were attempted.
func (l *LocalExtension) Enables() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enables
}

func (l *LocalExtension) Enable(ctx context.Context) (Session, error) {
	l.mu.Lock()
	l.enables++
	reject := l.reject
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reject != nil {
		return nil, reject
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return &KeySession{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// KeySession is a session backed by an ECDSA private key.
type KeySession struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// Address returns the checksummed session address.
func (s *KeySession) Address() string {
	return s.address.Hex()
}

// Sign signs a 32-byte digest, returning a 65-byte [R || S || V] signature.
func (s *KeySession) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("wallet: digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, s.key)
}

// RecoverAddress returns the address that produced sig over digest.
func RecoverAddress(digest, sig []byte) (string, error) {
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("wallet: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
