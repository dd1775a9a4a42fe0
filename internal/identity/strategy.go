package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry"
)

// Built-in admin credential. Matched before any other source.
const (
	AdminUsername = "admin"
	AdminPassword = "admin123"
)

var adminProfile = entity.Profile{
	Username:  AdminUsername,
	FirstName: "Admin",
	LastName:  "User",
	Email:     "admin@shop.com",
	Image:     "https://ui-avatars.com/api/?name=Admin+User&background=000000&color=ffffff",
}

const adminID = "admin_001"

// Strategy resolves credentials against one identity source. It returns
// errNoMatch when the source does not know the credentials; any other error
// is a source failure. Either way the engine moves on to the next strategy.
type Strategy interface {
	Source() entity.Source
	Resolve(ctx context.Context, username, password string) (*entity.Identity, error)
}

// ConstantTimeCompare reports whether a and b are equal in constant time.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type adminStrategy struct {
	tokens *TokenMinter
}

func (adminStrategy) Source() entity.Source { return entity.SourceBuiltinAdmin }

func (a adminStrategy) Resolve(_ context.Context, username, password string) (*entity.Identity, error) {
	userOK := ConstantTimeCompare(username, AdminUsername)
	passOK := ConstantTimeCompare(password, AdminPassword)
	if !userOK || !passOK {
		return nil, errNoMatch
	}
	return &entity.Identity{
		ID:          adminID,
		DisplayName: adminProfile.DisplayName(),
		Role:        entity.RoleAdmin,
		Source:      entity.SourceBuiltinAdmin,
		Token:       a.tokens.AdminToken(),
		Profile:     adminProfile,
	}, nil
}

type remoteStrategy struct {
	remote  RemoteIdentityService
	clock   clockwork.Clock
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func (remoteStrategy) Source() entity.Source { return entity.SourceRemote }

func (r remoteStrategy) Resolve(ctx context.Context, username, password string) (*entity.Identity, error) {
	res, err := raceWithTimeout(ctx, r.clock, r.timeout, "login", r.logger,
		func(ctx context.Context) (*entity.RemoteLogin, error) {
			return r.remote.Login(ctx, username, password)
		})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Token == "" || res.Profile.ID == "" {
		return nil, errors.New("remote login returned an incomplete identity")
	}
	id := res.Profile.Identity(res.Token)
	return &id, nil
}

type registryStrategy struct {
	registry *registry.Service
	tokens   *TokenMinter
}

func (registryStrategy) Source() entity.Source { return entity.SourceLocalRegistry }

func (r registryStrategy) Resolve(ctx context.Context, username, password string) (*entity.Identity, error) {
	rec, err := r.registry.Match(ctx, username, password)
	if err != nil {
		if errors.Is(err, registry.ErrNoMatch) {
			return nil, errNoMatch
		}
		return nil, err
	}
	token, err := r.tokens.LocalToken(rec.ID)
	if err != nil {
		return nil, err
	}
	return &entity.Identity{
		ID:          rec.ID,
		DisplayName: rec.Profile.DisplayName(),
		Role:        entity.RoleUser,
		Source:      entity.SourceLocalRegistry,
		Token:       token,
		Profile:     rec.Profile,
	}, nil
}
