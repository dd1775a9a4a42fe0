package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/kv"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry"
)

func TestLoginBuiltinAdminSkipsRemote(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	remote := &stubRemote{}
	svc := newEngine(t, store, newRegistry(store), remote)

	id, err := svc.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	assert.Equal(t, entity.RoleAdmin, id.Role)
	assert.Equal(t, entity.SourceBuiltinAdmin, id.Source)
	assert.True(t, strings.HasPrefix(id.Token, "admin_"))
	assert.Equal(t, "Admin User", id.DisplayName)
	assert.Zero(t, remote.loginCalls.Load())
	assert.Equal(t, StateAuthenticated, svc.State())
	assert.True(t, svc.IsAdmin())

	rec, ok, err := kv.GetJSON[entity.SessionRecord](ctx, store, kv.KeySession)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id.Token, rec.CredentialToken)
	assert.Equal(t, entity.SourceBuiltinAdmin, rec.SourceHint)
}

func TestAdminTokensAreFresh(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newEngine(t, store, nil, nil)

	a, err := svc.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	b, err := svc.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestLoginRemoteSuccess(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	remote := &stubRemote{login: func(_ context.Context, u, p string) (*entity.RemoteLogin, error) {
		return &entity.RemoteLogin{
			Token: "remote-token",
			Profile: entity.RemoteProfile{
				ID:      "15",
				Role:    "moderator",
				Profile: entity.Profile{Username: u, FirstName: "Emily", LastName: "Johnson"},
			},
		}, nil
	}}
	svc := newEngine(t, store, newRegistry(store), remote)

	id, err := svc.Login(ctx, "emilys", "emilyspass")
	require.NoError(t, err)
	assert.Equal(t, "15", id.ID)
	assert.Equal(t, entity.SourceRemote, id.Source)
	assert.Equal(t, entity.RoleUser, id.Role)
	assert.Equal(t, "remote-token", id.Token)
	assert.Equal(t, "Emily Johnson", id.DisplayName)
}

func TestLoginRemoteAdminRoleMapsToAdmin(t *testing.T) {
	store := kv.NewMemoryStore()
	remote := &stubRemote{login: func(context.Context, string, string) (*entity.RemoteLogin, error) {
		return &entity.RemoteLogin{Token: "t", Profile: entity.RemoteProfile{ID: "1", Role: "admin"}}, nil
	}}
	svc := newEngine(t, store, nil, remote)

	id, err := svc.Login(context.Background(), "boss", "x")
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAdmin, id.Role)
	assert.Equal(t, entity.SourceRemote, id.Source)
}

func TestLoginFallsBackToRegistryWhenRemoteFails(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	reg := newRegistry(store, "7")
	_, err := reg.Register(ctx, registry.RegisterInput{Username: "al", Password: "pw", Profile: entity.Profile{FirstName: "Al"}})
	require.NoError(t, err)
	remote := &stubRemote{}
	svc := newEngine(t, store, reg, remote)

	id, err := svc.Login(ctx, "al", "pw")
	require.NoError(t, err)
	assert.Equal(t, "7", id.ID)
	assert.Equal(t, entity.SourceLocalRegistry, id.Source)
	assert.Equal(t, entity.RoleUser, id.Role)
	assert.Equal(t, int32(1), remote.loginCalls.Load())
}

func TestLoginRegistryWhenRemoteTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := kv.NewMemoryStore()
	reg := newRegistry(store, "7")
	_, err := reg.Register(ctx, registry.RegisterInput{Username: "al", Password: "pw"})
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	defer close(release)
	remote := &stubRemote{login: func(context.Context, string, string) (*entity.RemoteLogin, error) {
		<-release
		return nil, errRemoteDown
	}}
	svc := newEngine(t, store, reg, remote, WithClock(clock))
	before := testutil.ToFloat64(remoteTimeoutsTotal.WithLabelValues("login"))

	type result struct {
		id  entity.Identity
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := svc.Login(ctx, "al", "pw")
		done <- result{id, err}
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultLoginTimeout)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "7", res.id.ID)
	assert.Equal(t, entity.SourceLocalRegistry, res.id.Source)
	assert.Equal(t, before+1, testutil.ToFloat64(remoteTimeoutsTotal.WithLabelValues("login")))

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(res.id.Token, claims, func(*jwt.Token) (any, error) { return testSecret, nil })
	require.NoError(t, err)
	assert.Equal(t, "7", claims.Subject)
	assert.NotNil(t, claims.IssuedAt)
}

func TestLateRemoteSuccessIsDiscarded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := kv.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	logger, logs := observedLogger()
	release := make(chan struct{})
	remote := &stubRemote{login: func(context.Context, string, string) (*entity.RemoteLogin, error) {
		<-release
		return &entity.RemoteLogin{Token: "late", Profile: entity.RemoteProfile{ID: "99"}}, nil
	}}
	svc := newEngine(t, store, newRegistry(store), remote, WithClock(clock), WithLogger(logger))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Login(ctx, "ghost", "pw")
		done <- err
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultLoginTimeout)
	require.ErrorIs(t, <-done, ErrInvalidCredentials)

	close(release)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("discarding late remote result").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := svc.Current()
	assert.False(t, ok)
	_, ok, err := store.Get(ctx, kv.KeySession)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoginInvalidCredentialsLeavesIdentityUnchanged(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	rec := &recorder{}
	svc := newEngine(t, store, newRegistry(store), &stubRemote{})
	svc.Subscribe(rec)

	admin, err := svc.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody", "nothing")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	cur, ok := svc.Current()
	require.True(t, ok)
	assert.Equal(t, admin, cur)
	assert.Len(t, rec.all(), 1)

	persisted, _, err := kv.GetJSON[entity.SessionRecord](ctx, store, kv.KeySession)
	require.NoError(t, err)
	assert.Equal(t, admin.Token, persisted.CredentialToken)
}

func TestLoginPersistFailureDoesNotMutateState(t *testing.T) {
	store := failingStore{kv.NewMemoryStore()}
	svc := newEngine(t, store, nil, nil)

	_, err := svc.Login(context.Background(), "admin", "admin123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	_, ok := svc.Current()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, svc.State())
}

func TestObserversSeeTransitionBeforeLoginReturns(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	rec := &recorder{}
	svc := newEngine(t, store, nil, nil)
	svc.Subscribe(rec)

	id, err := svc.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	changes := rec.all()
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].Previous)
	require.NotNil(t, changes[0].Current)
	assert.Equal(t, id.ID, changes[0].Current.ID)

	svc.Logout(ctx)
	changes = rec.all()
	require.Len(t, changes, 2)
	assert.Equal(t, id.ID, changes[1].Previous.ID)
	assert.Nil(t, changes[1].Current)
}

func TestLogoutClearsSession(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newEngine(t, store, nil, nil)
	_, err := svc.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	svc.Logout(ctx)
	assert.Equal(t, StateUnauthenticated, svc.State())
	_, ok := svc.Current()
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, kv.KeySession)
	assert.False(t, ok)

	// logout when already logged out still succeeds
	svc.Logout(ctx)
	assert.Equal(t, StateUnauthenticated, svc.State())
}

func TestRestoreWithoutSession(t *testing.T) {
	svc := newEngine(t, kv.NewMemoryStore(), nil, &stubRemote{})
	assert.Equal(t, StateIdle, svc.State())

	_, ok := svc.RestoreSession(context.Background())
	assert.False(t, ok)
	assert.Equal(t, StateUnauthenticated, svc.State())
}

func TestRestoreAdminIsTrustedWithoutVerification(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	first := newEngine(t, store, nil, nil)
	admin, err := first.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	remote := &stubRemote{}
	second := newEngine(t, store, nil, remote)
	id, ok := second.RestoreSession(ctx)
	require.True(t, ok)
	assert.Equal(t, admin, id)
	assert.Zero(t, remote.verifyCalls.Load())
	assert.Equal(t, StateAuthenticated, second.State())
}

func TestRestoreKnownLocalSessionIsTrusted(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	reg := newRegistry(store, "7")
	_, err := reg.Register(ctx, registry.RegisterInput{Username: "al", Password: "pw"})
	require.NoError(t, err)
	first := newEngine(t, store, reg, &stubRemote{})
	local, err := first.Login(ctx, "al", "pw")
	require.NoError(t, err)

	remote := &stubRemote{}
	second := newEngine(t, store, reg, remote)
	id, ok := second.RestoreSession(ctx)
	require.True(t, ok)
	assert.Equal(t, local, id)
	assert.Zero(t, remote.verifyCalls.Load())
}

func TestRestoreUnknownLocalSessionFallsToRemote(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	rec := entity.SessionRecord{
		Identity:        entity.SessionIdentity{ID: "gone", Role: entity.RoleUser},
		CredentialToken: "tok",
		SourceHint:      entity.SourceLocalRegistry,
	}
	require.NoError(t, kv.PutJSON(ctx, store, kv.KeySession, rec))

	remote := &stubRemote{}
	svc := newEngine(t, store, newRegistry(store), remote)
	_, ok := svc.RestoreSession(ctx)
	assert.False(t, ok)
	assert.Equal(t, int32(1), remote.verifyCalls.Load())
	_, present, _ := store.Get(ctx, kv.KeySession)
	assert.False(t, present)
}

func putRemoteSession(t *testing.T, store kv.Store) {
	t.Helper()
	rec := entity.SessionRecord{
		Identity:        entity.SessionIdentity{ID: "15", DisplayName: "Emily", Role: entity.RoleUser},
		CredentialToken: "remote-token",
		SourceHint:      entity.SourceRemote,
	}
	require.NoError(t, kv.PutJSON(context.Background(), store, kv.KeySession, rec))
}

func TestRestoreRemoteSessionIsVerified(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	putRemoteSession(t, store)
	remote := &stubRemote{verify: func(_ context.Context, token string) (*entity.RemoteProfile, error) {
		require.Equal(t, "remote-token", token)
		return &entity.RemoteProfile{ID: "15", Profile: entity.Profile{Username: "emilys", FirstName: "Emily", LastName: "J"}}, nil
	}}
	svc := newEngine(t, store, newRegistry(store), remote)

	id, ok := svc.RestoreSession(ctx)
	require.True(t, ok)
	assert.Equal(t, "15", id.ID)
	assert.Equal(t, "Emily J", id.DisplayName)
	assert.Equal(t, entity.SourceRemote, id.Source)
	assert.Equal(t, "remote-token", id.Token)
	assert.Equal(t, int32(1), remote.verifyCalls.Load())

	again, ok := svc.RestoreSession(ctx)
	require.True(t, ok)
	assert.Equal(t, id, again)
}

func TestRestoreRemoteVerificationFailureDeletesSession(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	putRemoteSession(t, store)
	rec := &recorder{}
	svc := newEngine(t, store, nil, &stubRemote{})
	svc.Subscribe(rec)

	_, ok := svc.RestoreSession(ctx)
	assert.False(t, ok)
	assert.Equal(t, StateUnauthenticated, svc.State())
	_, present, _ := store.Get(ctx, kv.KeySession)
	assert.False(t, present)
	require.Len(t, rec.all(), 1)
	assert.Nil(t, rec.all()[0].Current)
}

func TestRestoreRemoteVerificationTimesOutAtRestoreTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := kv.NewMemoryStore()
	putRemoteSession(t, store)
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	defer close(release)
	remote := &stubRemote{verify: func(context.Context, string) (*entity.RemoteProfile, error) {
		<-release
		return &entity.RemoteProfile{ID: "15"}, nil
	}}
	svc := newEngine(t, store, nil, remote, WithClock(clock))

	done := make(chan bool, 1)
	go func() {
		_, ok := svc.RestoreSession(ctx)
		done <- ok
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultRestoreTimeout)

	assert.False(t, <-done)
	_, present, _ := store.Get(ctx, kv.KeySession)
	assert.False(t, present)
}

func TestRestoreMalformedRecordIsDiscarded(t *testing.T) {
	ctx := context.Background()
	for name, raw := range map[string]string{
		"not json":   "{{{",
		"incomplete": `{"identity":{"id":""},"credential_token":"","source_hint":"remote"}`,
		"bad source": `{"identity":{"id":"1","role":"user"},"credential_token":"t","source_hint":"martian"}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := kv.NewMemoryStore()
			require.NoError(t, store.Set(ctx, kv.KeySession, raw))
			remote := &stubRemote{}
			svc := newEngine(t, store, nil, remote)

			_, ok := svc.RestoreSession(ctx)
			assert.False(t, ok)
			assert.Zero(t, remote.verifyCalls.Load())
			_, present, _ := store.Get(ctx, kv.KeySession)
			assert.False(t, present)
		})
	}
}

func TestRestoreTwiceYieldsSameIdentity(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	first := newEngine(t, store, nil, nil)
	_, err := first.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	svc := newEngine(t, store, nil, nil)
	a, okA := svc.RestoreSession(ctx)
	b, okB := svc.RestoreSession(ctx)
	assert.True(t, okA)
	assert.True(t, okB)
	assert.Equal(t, a, b)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newEngine(t, store, nil, nil)

	_, err := svc.UpdateProfile(ctx, entity.Profile{FirstName: "X"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	admin, err := svc.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	next, err := svc.UpdateProfile(ctx, entity.Profile{Username: "ignored", FirstName: "Head", LastName: "Office"})
	require.NoError(t, err)

	assert.Equal(t, "Head Office", next.DisplayName)
	assert.Equal(t, "admin", next.Profile.Username)
	assert.Equal(t, admin.Token, next.Token)
	assert.Equal(t, "Admin User", admin.DisplayName, "previous identity value is unchanged")

	rec, _, err := kv.GetJSON[entity.SessionRecord](ctx, store, kv.KeySession)
	require.NoError(t, err)
	assert.Equal(t, "Head Office", rec.Identity.DisplayName)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "restoring", StateRestoring.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestUpdateProfileSyncsLocalRegistry(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	reg := newRegistry(store, "7")
	_, err := reg.Register(ctx, registry.RegisterInput{Username: "al", Password: "pw"})
	require.NoError(t, err)
	svc := newEngine(t, store, reg, nil)
	_, err = svc.Login(ctx, "al", "pw")
	require.NoError(t, err)

	_, err = svc.UpdateProfile(ctx, entity.Profile{FirstName: "Alan", Email: "al@x.dev"})
	require.NoError(t, err)

	rec, err := reg.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "Alan", rec.Profile.FirstName)
	assert.Equal(t, "al", rec.Profile.Username)
	assert.NotNil(t, rec.UpdatedAt)
}

func TestRestoreRemoteHintWithMatchingLocalIDIsVerified(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	reg := newRegistry(store, "15")
	_, err := reg.Register(ctx, registry.RegisterInput{Username: "al", Password: "pw"})
	require.NoError(t, err)
	putRemoteSession(t, store)

	remote := &stubRemote{verify: func(context.Context, string) (*entity.RemoteProfile, error) {
		return &entity.RemoteProfile{ID: "15", Profile: entity.Profile{Username: "emilys", FirstName: "Emily"}}, nil
	}}
	svc := newEngine(t, store, reg, remote)
	id, ok := svc.RestoreSession(ctx)
	require.True(t, ok)
	assert.Equal(t, entity.SourceRemote, id.Source)
	assert.Equal(t, "remote-token", id.Token)
	assert.Equal(t, int32(1), remote.verifyCalls.Load())

	putRemoteSession(t, store)
	rejecting := &stubRemote{}
	svc = newEngine(t, store, reg, rejecting)
	_, ok = svc.RestoreSession(ctx)
	assert.False(t, ok)
	assert.Equal(t, int32(1), rejecting.verifyCalls.Load())
	_, present, _ := store.Get(ctx, kv.KeySession)
	assert.False(t, present)
}

func TestReadsDoNotWaitOnLoginRace(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := kv.NewMemoryStore()
	reg := newRegistry(store, "7")
	_, err := reg.Register(ctx, registry.RegisterInput{Username: "al", Password: "pw"})
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	defer close(release)
	remote := &stubRemote{login: func(context.Context, string, string) (*entity.RemoteLogin, error) {
		<-release
		return nil, errRemoteDown
	}}
	svc := newEngine(t, store, reg, remote, WithClock(clock))
	admin, err := svc.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	var seen []string
	svc.Subscribe(ObserverFunc(func(context.Context, entity.Change) {
		id, _ := svc.Current()
		seen = append(seen, id.ID)
	}))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Login(ctx, "al", "pw")
		done <- err
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	reads := make(chan entity.Identity, 1)
	go func() {
		id, _ := svc.Current()
		_ = svc.State()
		_ = svc.IsAdmin()
		reads <- id
	}()
	select {
	case id := <-reads:
		assert.Equal(t, admin.ID, id.ID)
		assert.True(t, svc.IsAdmin())
		assert.Equal(t, StateAuthenticated, svc.State())
	case <-time.After(time.Second):
		t.Fatal("reads blocked behind an in-flight login")
	}

	clock.Advance(DefaultLoginTimeout)
	require.NoError(t, <-done)
	id, ok := svc.Current()
	require.True(t, ok)
	assert.Equal(t, "7", id.ID)
	assert.Equal(t, []string{"7"}, seen)
}
