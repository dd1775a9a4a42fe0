package entity

import (
	"time"

	identity "github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
)

// CredentialRecord is a locally registered account. Records are kept as an
// ordered list; position is registration order.
type CredentialRecord struct {
	ID           string           `json:"id"`
	Username     string           `json:"username"`
	PasswordHash string           `json:"password_hash"`
	PasswordAlgo string           `json:"password_algo"`
	Profile      identity.Profile `json:"profile"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
}

// PublicView is the record without password material, as listed to admins.
type PublicView struct {
	ID        string           `json:"id"`
	Username  string           `json:"username"`
	Profile   identity.Profile `json:"profile"`
	CreatedAt time.Time        `json:"created_at"`
}

func (r CredentialRecord) Public() PublicView {
	return PublicView{ID: r.ID, Username: r.Username, Profile: r.Profile, CreatedAt: r.CreatedAt}
}
