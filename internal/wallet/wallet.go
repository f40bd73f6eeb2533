// Package wallet discovers and connects wallet capabilities exposed by the
// host environment.
//
// Connecting to a key that discovery did not report is a no-op: the manager
// keeps its current connection, no consent handshake starts, and Connect
// returns ErrWalletUnavailable so callers can tell the request was ignored.
// The API reports it as 404 and publishes no wallet event.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mbd888/masumiguard/internal/metrics"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrWalletUnavailable means the requested key was not discovered on the
	// host. Connect made no state change and no handshake.
	ErrWalletUnavailable = errors.New("wallet: capability not available")

	// ErrConnectInProgress means another consent handshake is still pending.
	ErrConnectInProgress = errors.New("wallet: connect already in progress")
)

// ExtensionError wraps a failed or rejected consent handshake.
type ExtensionError struct {
	Key string
	Err error
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("wallet: %s extension error: %v", e.Key, e.Err)
}

func (e *ExtensionError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Host interfaces
// -----------------------------------------------------------------------------

// Session is the handle returned by a successful consent handshake.
type Session interface {
	Address() string
}

// Signer is implemented by sessions able to sign a 32-byte digest.
type Signer interface {
	Sign(ctx context.Context, digest []byte) ([]byte, error)
}

// Extension is one keyed wallet object on the host.
type Extension interface {
	Enable(ctx context.Context) (Session, error)
}

// Host is the host's namespaced capability registry.
type Host interface {
	Extension(key string) (Extension, bool)
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Descriptor describes a supported wallet.
type Descriptor struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Supported is the catalog of wallets the console knows about, in
// presentation order.
var Supported = []Descriptor{
	{Key: "nami", Label: "Nami"},
	{Key: "eternl", Label: "Eternl"},
}

// Capability is a connected wallet session.
type Capability struct {
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connectedAt"`
	Session     Session   `json:"-"`
}

// CanSign reports whether the session can sign attestation payloads.
func (c *Capability) CanSign() bool {
	if c == nil {
		return false
	}
	_, ok := c.Session.(Signer)
	return ok
}

// -----------------------------------------------------------------------------
// Manager
// -----------------------------------------------------------------------------

// Manager owns discovery results and the single connected capability.
type Manager struct {
	host   Host
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	discovered []Descriptor
	connected  *Capability
	connecting bool
}

// NewManager creates a manager over host. A nil host means the wallet
// namespace is absent.
func NewManager(host Host, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{host: host, logger: logger, now: time.Now}
}

// Discover probes the host for every supported wallet and caches the result.
// An absent host yields an empty set.
func (m *Manager) Discover() []Descriptor {
	found := []Descriptor{}
	if m.host != nil {
		for _, d := range Supported {
			if ext, ok := m.host.Extension(d.Key); ok && ext != nil {
				found = append(found, d)
			}
		}
	}

	m.mu.Lock()
	m.discovered = found
	m.mu.Unlock()

	m.logger.Info("wallet discovery complete", "count", len(found))
	return slices.Clone(found)
}

// Discovered returns the cached result of the last Discover call.
func (m *Manager) Discovered() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discovered == nil {
		return []Descriptor{}
	}
	return slices.Clone(m.discovered)
}

// Connect runs the consent handshake for key. On success the new capability
// replaces any prior connection. On failure the prior connection is kept.
func (m *Manager) Connect(ctx context.Context, key string) (*Capability, error) {
	m.mu.Lock()
	idx := slices.IndexFunc(m.discovered, func(d Descriptor) bool { return d.Key == key })
	if idx < 0 {
		m.mu.Unlock()
		metrics.WalletConnectionsTotal.WithLabelValues(key, "unavailable").Inc()
		return nil, ErrWalletUnavailable
	}
	if m.connecting {
		m.mu.Unlock()
		metrics.WalletConnectionsTotal.WithLabelValues(key, "busy").Inc()
		return nil, ErrConnectInProgress
	}
	desc := m.discovered[idx]
	m.connecting = true
	m.mu.Unlock()

	session, err := m.enable(ctx, desc.Key)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connecting = false

	if err != nil {
		metrics.WalletConnectionsTotal.WithLabelValues(key, "rejected").Inc()
		m.logger.Warn("wallet connect failed", "wallet", key, "error", err)
		return nil, &ExtensionError{Key: key, Err: err}
	}

	c := &Capability{
		Key:         desc.Key,
		Label:       desc.Label,
		Address:     session.Address(),
		ConnectedAt: m.now(),
		Session:     session,
	}
	m.connected = c
	metrics.WalletConnectionsTotal.WithLabelValues(key, "connected").Inc()
	m.logger.Info("wallet connected", "wallet", key, "address", c.Address)
	return c, nil
}

func (m *Manager) enable(ctx context.Context, key string) (Session, error) {
	ext, ok := m.host.Extension(key)
	if !ok || ext == nil {
		return nil, errors.New("extension disappeared from host")
	}
	session, err := ext.Enable(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.New("extension returned no session")
	}
	return session, nil
}

// Connected returns the current capability, if any.
func (m *Manager) Connected() (*Capability, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected, m.connected != nil
}

// Disconnect clears the current capability.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	prev := m.connected
	m.connected = nil
	m.mu.Unlock()
	if prev != nil {
		m.logger.Info("wallet disconnected", "wallet", prev.Key)
	}
}
