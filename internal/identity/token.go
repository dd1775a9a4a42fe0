package identity

import (
	"crypto/rand"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-storefront-go/pkg/utilities"
)

const localTokenIssuer = "local-registry"

// TokenMinter issues the opaque tokens for identities resolved without the
// remote service. Nothing downstream validates them cryptographically.
type TokenMinter struct {
	secret []byte
	clock  clockwork.Clock
}

// NewTokenMinter signs local tokens with secret. An empty secret is replaced
// with a random per-process key.
func NewTokenMinter(secret []byte, clock clockwork.Clock) (*TokenMinter, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenMinter{secret: secret, clock: clock}, nil
}

// AdminToken returns a fresh, time-ordered unique token.
func (m *TokenMinter) AdminToken() string {
	return "admin_" + utilities.NewKSUID()
}

// LocalToken embeds the credential record id and the current time.
func (m *TokenMinter) LocalToken(recordID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:   localTokenIssuer,
		Subject:  recordID,
		IssuedAt: jwt.NewNumericDate(m.clock.Now()),
		ID:       utilities.NewKSUID(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign local token: %w", err)
	}
	return signed, nil
}
