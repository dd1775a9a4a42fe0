package entity

import "errors"

// SessionRecord is the persisted proof of a prior resolution.
type SessionRecord struct {
	Identity        SessionIdentity `json:"identity"`
	CredentialToken string          `json:"credential_token"`
	SourceHint      Source          `json:"source_hint"`
}

// SessionIdentity is the persisted snapshot of an Identity. The token lives on
// the record itself.
type SessionIdentity struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Role        Role    `json:"role"`
	Profile     Profile `json:"profile"`
}

var errIncompleteSession = errors.New("session record is incomplete")

func NewSessionRecord(id Identity) SessionRecord {
	return SessionRecord{
		Identity: SessionIdentity{
			ID:          id.ID,
			DisplayName: id.DisplayName,
			Role:        id.Role,
			Profile:     id.Profile,
		},
		CredentialToken: id.Token,
		SourceHint:      id.Source,
	}
}

// Validate rejects records that decoded but cannot describe an identity.
func (r SessionRecord) Validate() error {
	if r.Identity.ID == "" || r.CredentialToken == "" || !r.SourceHint.Valid() {
		return errIncompleteSession
	}
	if r.Identity.Role != RoleAdmin && r.Identity.Role != RoleUser {
		return errIncompleteSession
	}
	return nil
}

// Restore rebuilds the Identity captured by the record.
func (r SessionRecord) Restore() Identity {
	return Identity{
		ID:          r.Identity.ID,
		DisplayName: r.Identity.DisplayName,
		Role:        r.Identity.Role,
		Source:      r.SourceHint,
		Token:       r.CredentialToken,
		Profile:     r.Identity.Profile,
	}
}

// Change describes one identity transition. A nil side means unauthenticated.
type Change struct {
	Previous *Identity
	Current  *Identity
}
