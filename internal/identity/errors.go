package identity

import "errors"

var (
	// ErrInvalidCredentials is the only failure Login reports to callers. It
	// never says which strategy rejected the attempt.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionInvalid marks a persisted session that failed restore.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrRemoteUnavailable covers network failures and race timeouts against
	// the remote identity service. Always absorbed by the engine.
	ErrRemoteUnavailable = errors.New("remote identity service unavailable")
	ErrNotAuthenticated  = errors.New("not authenticated")

	errNoMatch = errors.New("no match")
)
