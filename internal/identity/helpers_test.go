package identity

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/kv"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry"
	registryrepo "github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry/repo"
)

var errRemoteDown = errors.New("remote down")

var testSecret = []byte("test-secret")

// stubRemote fails every call unless a behaviour is set.
type stubRemote struct {
	login  func(ctx context.Context, username, password string) (*entity.RemoteLogin, error)
	verify func(ctx context.Context, token string) (*entity.RemoteProfile, error)

	loginCalls  atomic.Int32
	verifyCalls atomic.Int32
}

func (s *stubRemote) Login(ctx context.Context, username, password string) (*entity.RemoteLogin, error) {
	s.loginCalls.Add(1)
	if s.login == nil {
		return nil, errRemoteDown
	}
	return s.login(ctx, username, password)
}

func (s *stubRemote) VerifyToken(ctx context.Context, token string) (*entity.RemoteProfile, error) {
	s.verifyCalls.Add(1)
	if s.verify == nil {
		return nil, errRemoteDown
	}
	return s.verify(ctx, token)
}

// recorder collects identity changes.
type recorder struct {
	mu      sync.Mutex
	changes []entity.Change
}

func (r *recorder) IdentityChanged(_ context.Context, c entity.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) all() []entity.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.Change(nil), r.changes...)
}

// failingStore rejects writes.
type failingStore struct {
	*kv.MemoryStore
}

func (failingStore) Set(context.Context, string, string) error { return errors.New("disk full") }

func fixedIDs(ids ...string) func() string {
	n := 0
	return func() string {
		if n < len(ids) {
			n++
			return ids[n-1]
		}
		n++
		return "gen-" + strconv.Itoa(n)
	}
}

func newRegistry(store kv.Store, ids ...string) *registry.Service {
	return registry.NewService(registryrepo.NewRegistryRepo(store),
		registry.WithHasher(registry.BcryptHasher{Cost: bcrypt.MinCost}),
		registry.WithIDGenerator(fixedIDs(ids...)),
	)
}

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func newEngine(t *testing.T, store kv.Store, reg *registry.Service, remote RemoteIdentityService, opts ...Option) *Service {
	t.Helper()
	minter, err := NewTokenMinter(testSecret, nil)
	require.NoError(t, err)
	base := []Option{WithTokenMinter(minter)}
	svc, err := NewService(store, reg, remote, append(base, opts...)...)
	require.NoError(t, err)
	return svc
}
