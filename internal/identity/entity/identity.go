package entity

import "strings"

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Source records which resolution strategy produced an Identity.
type Source string

const (
	SourceBuiltinAdmin  Source = "builtin-admin"
	SourceRemote        Source = "remote"
	SourceLocalRegistry Source = "local-registry"
)

func (s Source) Valid() bool {
	switch s {
	case SourceBuiltinAdmin, SourceRemote, SourceLocalRegistry:
		return true
	}
	return false
}

// Profile holds the descriptive fields shared by every identity source.
type Profile struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Image     string `json:"image,omitempty"`
}

// DisplayName prefers "First Last" and falls back to the username.
func (p Profile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name != "" {
		return name
	}
	return p.Username
}

// Identity is the resolved principal. Values are never mutated after
// resolution; a change produces a new Identity.
type Identity struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Role        Role    `json:"role"`
	Source      Source  `json:"source"`
	Token       string  `json:"-"`
	Profile     Profile `json:"profile"`
}

// WithProfile returns a copy of i carrying p.
func (i Identity) WithProfile(p Profile) Identity {
	i.Profile = p
	i.DisplayName = p.DisplayName()
	return i
}

// RemoteLogin is what the remote identity service returns on a successful login.
type RemoteLogin struct {
	Token   string
	Profile RemoteProfile
}

// RemoteProfile is the remote service's view of a user.
type RemoteProfile struct {
	ID   string
	Role string
	Profile
}

// Identity converts a remote profile into a remote-sourced Identity. Only an
// explicit "admin" role maps to RoleAdmin.
func (p RemoteProfile) Identity(token string) Identity {
	role := RoleUser
	if p.Role == string(RoleAdmin) {
		role = RoleAdmin
	}
	return Identity{
		ID:          p.ID,
		DisplayName: p.Profile.DisplayName(),
		Role:        role,
		Source:      SourceRemote,
		Token:       token,
		Profile:     p.Profile,
	}
}
