package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
	sessionrepo "github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/kv"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry"
)

const (
	DefaultLoginTimeout   = 5 * time.Second
	DefaultRestoreTimeout = 3 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateRestoring
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRestoring:
		return "restoring"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer is notified of every identity transition. Notifications are
// delivered synchronously, before the engine call that caused them returns.
// Observers may read Current and State but must not call Login, Logout,
// RestoreSession or UpdateProfile.
type Observer interface {
	IdentityChanged(ctx context.Context, change entity.Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, change entity.Change)

func (f ObserverFunc) IdentityChanged(ctx context.Context, change entity.Change) { f(ctx, change) }

// Service is the identity resolution engine. Mutating operations are
// serialized on opMu; mu only guards the committed state, so readers never
// wait on a login race.
type Service struct {
	opMu sync.Mutex
	mu   sync.Mutex

	sessions *sessionrepo.SessionRepo
	registry *registry.Service
	remote   RemoteIdentityService
	tokens   *TokenMinter
	clock    clockwork.Clock
	logger   *zap.SugaredLogger

	loginTimeout   time.Duration
	restoreTimeout time.Duration

	strategies []Strategy
	observers  []Observer

	state   State
	current *entity.Identity
}

type Option func(*Service)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithTokenMinter(m *TokenMinter) Option {
	return func(s *Service) {
		if m != nil {
			s.tokens = m
		}
	}
}

// WithTimeouts overrides the remote login and restore race timeouts. Zero
// values keep the defaults.
func WithTimeouts(login, restore time.Duration) Option {
	return func(s *Service) {
		if login > 0 {
			s.loginTimeout = login
		}
		if restore > 0 {
			s.restoreTimeout = restore
		}
	}
}

// NewService builds the engine in StateIdle. remote may be nil, in which case
// the remote strategy is skipped and remote sessions never restore.
func NewService(store kv.Store, reg *registry.Service, remote RemoteIdentityService, opts ...Option) (*Service, error) {
	s := &Service{
		sessions:       sessionrepo.NewSessionRepo(store),
		registry:       reg,
		remote:         remote,
		clock:          clockwork.NewRealClock(),
		logger:         zap.NewNop().Sugar(),
		loginTimeout:   DefaultLoginTimeout,
		restoreTimeout: DefaultRestoreTimeout,
		state:          StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tokens == nil {
		m, err := NewTokenMinter(nil, s.clock)
		if err != nil {
			return nil, err
		}
		s.tokens = m
	}

	s.strategies = []Strategy{adminStrategy{tokens: s.tokens}}
	if remote != nil {
		s.strategies = append(s.strategies, remoteStrategy{
			remote:  remote,
			clock:   s.clock,
			timeout: s.loginTimeout,
			logger:  s.logger,
		})
	}
	if reg != nil {
		s.strategies = append(s.strategies, registryStrategy{registry: reg, tokens: s.tokens})
	}
	return s, nil
}

// Subscribe registers an observer for identity transitions.
func (s *Service) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Current returns the current identity, if any.
func (s *Service) Current() (entity.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return entity.Identity{}, false
	}
	return *s.current, true
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) IsAdmin() bool {
	id, ok := s.Current()
	return ok && id.Role == entity.RoleAdmin
}

// Login tries the built-in admin, the remote service and the local registry in
// that order. The first success is persisted and becomes current. When every
// strategy fails the result is ErrInvalidCredentials and nothing changes.
func (s *Service) Login(ctx context.Context, username, password string) (entity.Identity, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	for _, st := range s.strategies {
		id, err := st.Resolve(ctx, username, password)
		if err != nil {
			if !errors.Is(err, errNoMatch) {
				s.logger.Debugw("login strategy failed", "source", st.Source(), "err", err)
			}
			continue
		}
		if err := s.sessions.Save(ctx, entity.NewSessionRecord(*id)); err != nil {
			loginTotal.WithLabelValues("error", string(id.Source)).Inc()
			return entity.Identity{}, fmt.Errorf("persist session: %w", err)
		}
		s.transition(ctx, StateAuthenticated, id)
		loginTotal.WithLabelValues("success", string(id.Source)).Inc()
		s.logger.Infow("login succeeded", "identity", id.ID, "source", id.Source)
		return *id, nil
	}

	if err := ctx.Err(); err != nil {
		return entity.Identity{}, err
	}
	loginTotal.WithLabelValues("invalid", "").Inc()
	return entity.Identity{}, ErrInvalidCredentials
}

// Logout drops the session record and the current identity. It cannot fail;
// a storage error is logged and the in-memory state still moves on.
func (s *Service) Logout(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.sessions.Delete(ctx); err != nil {
		s.logger.Warnw("delete session on logout", "err", err)
	}
	s.transition(ctx, StateUnauthenticated, nil)
}

// RestoreSession resolves the identity captured by the persisted session
// record. Admin sessions and sessions of known local accounts are trusted as
// stored; anything else is re-verified against the remote service. Any failure
// deletes the record and leaves the engine unauthenticated.
func (s *Service) RestoreSession(ctx context.Context) (entity.Identity, bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.state = StateRestoring
	s.mu.Unlock()

	rec, err := s.sessions.Load(ctx)
	if err != nil {
		return s.invalidate(ctx, err)
	}
	if rec == nil {
		restoreTotal.WithLabelValues("absent").Inc()
		s.transition(ctx, StateUnauthenticated, nil)
		return entity.Identity{}, false
	}
	if err := rec.Validate(); err != nil {
		return s.invalidate(ctx, fmt.Errorf("%w: %v", kv.ErrMalformed, err))
	}

	if rec.SourceHint == entity.SourceBuiltinAdmin || s.isKnownLocal(ctx, rec) {
		id := rec.Restore()
		restoreTotal.WithLabelValues("trusted").Inc()
		s.transition(ctx, StateAuthenticated, &id)
		return id, true
	}

	id, err := s.verifyRemote(ctx, rec)
	if err != nil {
		return s.invalidate(ctx, err)
	}
	if err := s.sessions.Save(ctx, entity.NewSessionRecord(id)); err != nil {
		return s.invalidate(ctx, fmt.Errorf("persist session: %w", err))
	}
	restoreTotal.WithLabelValues("verified").Inc()
	s.transition(ctx, StateAuthenticated, &id)
	return id, true
}

// UpdateProfile replaces the profile of the current identity. The username,
// id, role, source and token are kept. Local accounts also have their
// credential record updated.
func (s *Service) UpdateProfile(ctx context.Context, p entity.Profile) (entity.Identity, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cur, ok := s.Current()
	if !ok {
		return entity.Identity{}, ErrNotAuthenticated
	}
	p.Username = cur.Profile.Username
	next := cur.WithProfile(p)
	if next.Source == entity.SourceLocalRegistry && s.registry != nil {
		if _, err := s.registry.UpdateProfile(ctx, next.ID, p); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return entity.Identity{}, fmt.Errorf("update registry profile: %w", err)
		}
	}
	if err := s.sessions.Save(ctx, entity.NewSessionRecord(next)); err != nil {
		return entity.Identity{}, fmt.Errorf("persist session: %w", err)
	}
	s.transition(ctx, StateAuthenticated, &next)
	return next, nil
}

func (s *Service) isKnownLocal(ctx context.Context, rec *entity.SessionRecord) bool {
	if rec.SourceHint != entity.SourceLocalRegistry || s.registry == nil {
		return false
	}
	_, err := s.registry.Get(ctx, rec.Identity.ID)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		s.logger.Warnw("registry lookup during restore", "err", err)
	}
	return err == nil
}

func (s *Service) verifyRemote(ctx context.Context, rec *entity.SessionRecord) (entity.Identity, error) {
	if s.remote == nil {
		return entity.Identity{}, ErrRemoteUnavailable
	}
	profile, err := raceWithTimeout(ctx, s.clock, s.restoreTimeout, "verify", s.logger,
		func(ctx context.Context) (*entity.RemoteProfile, error) {
			return s.remote.VerifyToken(ctx, rec.CredentialToken)
		})
	if err != nil {
		return entity.Identity{}, err
	}
	if profile == nil || profile.ID == "" {
		return entity.Identity{}, errors.New("remote verification returned no identity")
	}
	return profile.Identity(rec.CredentialToken), nil
}

func (s *Service) invalidate(ctx context.Context, cause error) (entity.Identity, bool) {
	s.logger.Infow("session discarded", "err", fmt.Errorf("%w: %v", ErrSessionInvalid, cause))
	if err := s.sessions.Delete(ctx); err != nil {
		s.logger.Warnw("delete invalid session", "err", err)
	}
	restoreTotal.WithLabelValues("invalidated").Inc()
	s.transition(ctx, StateUnauthenticated, nil)
	return entity.Identity{}, false
}

// transition commits the new state and notifies observers. Callers hold
// s.opMu, which keeps notifications in commit order.
func (s *Service) transition(ctx context.Context, state State, next *entity.Identity) {
	s.mu.Lock()
	prev := s.current
	s.state = state
	s.current = copyIdentity(next)
	change := entity.Change{Previous: copyIdentity(prev), Current: copyIdentity(next)}
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.IdentityChanged(ctx, change)
	}
}

func copyIdentity(id *entity.Identity) *entity.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
