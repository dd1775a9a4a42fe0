// Package remote talks to the external identity service (a dummyjson-style
// /auth API) on behalf of the identity engine.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
)

const (
	DefaultBaseURL = "https://dummyjson.com"

	// lifetime requested for remote access tokens
	tokenLifetimeMins = 30
)

// ErrRejected means the remote service answered and refused the credentials
// or token.
var ErrRejected = errors.New("remote identity service rejected the request")

type Client struct {
	http   *resty.Client
	logger *zap.SugaredLogger
}

var _ identity.RemoteIdentityService = (*Client)(nil)

// New returns a client for baseURL. timeout bounds each HTTP exchange and is
// independent of the engine's race timeouts.
func New(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "storefront-session/1.0")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{http: c, logger: logger}
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	ExpiresInMins int    `json:"expiresInMins"`
}

type userResponse struct {
	ID        json.Number `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Image     string      `json:"image"`
	Role      string      `json:"role"`
}

func (u userResponse) profile() entity.RemoteProfile {
	return entity.RemoteProfile{
		ID:   u.ID.String(),
		Role: u.Role,
		Profile: entity.Profile{
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
			Image:     u.Image,
		},
	}
}

type loginResponse struct {
	userResponse
	AccessToken string `json:"accessToken"`
	// older deployments return the access token as "token"
	Token string `json:"token"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Login exchanges username and password for an access token and profile.
func (c *Client) Login(ctx context.Context, username, password string) (*entity.RemoteLogin, error) {
	var (
		res    loginResponse
		apiErr errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(loginRequest{Username: username, Password: password, ExpiresInMins: tokenLifetimeMins}).
		SetResult(&res).
		SetError(&apiErr).
		Post("/auth/login")
	if err != nil {
		return nil, fmt.Errorf("%w: login: %v", identity.ErrRemoteUnavailable, err)
	}
	if err := checkStatus(resp, apiErr); err != nil {
		return nil, err
	}

	token := res.AccessToken
	if token == "" {
		token = res.Token
	}
	if token == "" || res.ID.String() == "" {
		return nil, fmt.Errorf("%w: login response missing token or id", ErrRejected)
	}
	c.logger.Debugw("remote login accepted", "user", res.ID.String())
	return &entity.RemoteLogin{Token: token, Profile: res.profile()}, nil
}

// VerifyToken fetches the profile the token belongs to.
func (c *Client) VerifyToken(ctx context.Context, token string) (*entity.RemoteProfile, error) {
	var (
		res    userResponse
		apiErr errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&res).
		SetError(&apiErr).
		Get("/auth/me")
	if err != nil {
		return nil, fmt.Errorf("%w: verify: %v", identity.ErrRemoteUnavailable, err)
	}
	if err := checkStatus(resp, apiErr); err != nil {
		return nil, err
	}
	if res.ID.String() == "" {
		return nil, fmt.Errorf("%w: verify response missing id", ErrRejected)
	}
	p := res.profile()
	return &p, nil
}

func checkStatus(resp *resty.Response, apiErr errorResponse) error {
	switch code := resp.StatusCode(); {
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", identity.ErrRemoteUnavailable, code)
	case code >= http.StatusBadRequest:
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(code)
		}
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return nil
}
