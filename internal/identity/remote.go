package identity

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
)

// RemoteIdentityService is the third-party credential verifier. Both calls may
// be slow or fail; the engine races them against its own timeouts.
type RemoteIdentityService interface {
	Login(ctx context.Context, username, password string) (*entity.RemoteLogin, error)
	VerifyToken(ctx context.Context, token string) (*entity.RemoteProfile, error)
}
