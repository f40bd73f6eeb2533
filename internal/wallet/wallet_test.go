package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingExtension holds Enable until released.
type blockingExtension struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExtension) Enable(ctx context.Context) (Session, error) {
	close(b.started)
	select {
	case <-b.release:
		return NewLocalExtension().Enable(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name string
		host Host
		want []Descriptor
	}{
		{
			name: "absent namespace",
			host: nil,
			want: []Descriptor{},
		},
		{
			name: "empty namespace",
			host: NewStaticHost(),
			want: []Descriptor{},
		},
		{
			name: "catalog order",
			host: HostFromKeys([]string{"eternl", "nami"}),
			want: []Descriptor{{Key: "nami", Label: "Nami"}, {Key: "eternl", Label: "Eternl"}},
		},
		{
			name: "unsupported keys ignored",
			host: HostFromKeys([]string{"flint", " Eternl ", ""}),
			want: []Descriptor{{Key: "eternl", Label: "Eternl"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.host, nil)
			assert.Equal(t, tt.want, m.Discover())
			assert.Equal(t, tt.want, m.Discovered())
		})
	}
}

func TestConnect_UnavailableKeyIsNoOp(t *testing.T) {
	host := HostFromKeys([]string{"eternl"})
	nami := NewLocalExtension()
	m := NewManager(host, nil)
	m.Discover()

	// Registered after discovery: still not in the discovered set.
	host.Register("nami", nami)

	c, err := m.Connect(context.Background(), "nami")
	assert.ErrorIs(t, err, ErrWalletUnavailable)
	assert.Nil(t, c)
	_, ok := m.Connected()
	assert.False(t, ok)
	assert.Zero(t, nami.Enables(), "no handshake attempted")
}

func TestConnect_BeforeDiscoverIsUnavailable(t *testing.T) {
	m := NewManager(HostFromKeys([]string{"nami"}), nil)
	_, err := m.Connect(context.Background(), "nami")
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}

func TestConnect_Success(t *testing.T) {
	m := NewManager(HostFromKeys([]string{"eternl"}), nil)
	m.Discover()

	c, err := m.Connect(context.Background(), "eternl")
	require.NoError(t, err)
	assert.Equal(t, "eternl", c.Key)
	assert.Equal(t, "Eternl", c.Label)
	assert.Regexp(t, "^0x[0-9a-fA-F]{40}$", c.Address)
	assert.True(t, c.CanSign())

	got, ok := m.Connected()
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestConnect_ReplacesPriorConnection(t *testing.T) {
	m := NewManager(HostFromKeys([]string{"nami", "eternl"}), nil)
	m.Discover()

	_, err := m.Connect(context.Background(), "nami")
	require.NoError(t, err)
	second, err := m.Connect(context.Background(), "eternl")
	require.NoError(t, err)

	got, _ := m.Connected()
	assert.Equal(t, "eternl", got.Key)
	assert.Same(t, second, got)
}

func TestConnect_RejectionKeepsPriorConnection(t *testing.T) {
	host := NewStaticHost()
	nami := NewLocalExtension()
	eternl := NewLocalExtension()
	host.Register("nami", nami)
	host.Register("eternl", eternl)
	m := NewManager(host, nil)
	m.Discover()

	first, err := m.Connect(context.Background(), "nami")
	require.NoError(t, err)

	eternl.Reject(ErrUserRejected)
	_, err = m.Connect(context.Background(), "eternl")

	var extErr *ExtensionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "eternl", extErr.Key)
	assert.ErrorIs(t, err, ErrUserRejected)

	got, ok := m.Connected()
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestConnect_InProgress(t *testing.T) {
	host := NewStaticHost()
	slow := &blockingExtension{started: make(chan struct{}), release: make(chan struct{})}
	host.Register("nami", slow)
	host.Register("eternl", NewLocalExtension())
	m := NewManager(host, nil)
	m.Discover()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = m.Connect(context.Background(), "nami")
	}()
	<-slow.started

	_, err := m.Connect(context.Background(), "eternl")
	assert.ErrorIs(t, err, ErrConnectInProgress)

	close(slow.release)
	wg.Wait()
	require.NoError(t, firstErr)

	got, _ := m.Connected()
	assert.Equal(t, "nami", got.Key)
}

func TestConnect_ContextCanceled(t *testing.T) {
	m := NewManager(HostFromKeys([]string{"nami"}), nil)
	m.Discover()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Connect(ctx, "nami")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDisconnect(t *testing.T) {
	m := NewManager(HostFromKeys([]string{"nami"}), nil)
	m.Discover()
	_, err := m.Connect(context.Background(), "nami")
	require.NoError(t, err)

	m.Disconnect()
	_, ok := m.Connected()
	assert.False(t, ok)

	m.Disconnect()
}

func TestKeySession_SignRecovers(t *testing.T) {
	s, err := NewLocalExtension().Enable(context.Background())
	require.NoError(t, err)
	signer, ok := s.(Signer)
	require.True(t, ok)

	digest := crypto.Keccak256([]byte("abc123|95|Low"))
	sig, err := signer.Sign(context.Background(), digest)
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	addr, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	_, err = signer.Sign(context.Background(), []byte("short"))
	assert.Error(t, err)
}

func TestCapability_CanSignNil(t *testing.T) {
	var c *Capability
	assert.False(t, c.CanSign())
}
