package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// JWTBearerGrant is the OAuth grant type used to exchange a signed assertion.
const JWTBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

const maxErrorBody = 4 << 10

var (
	// ErrNoAccounts signals that the identity endpoint returned no usable account.
	ErrNoAccounts = errors.New("auth: no accounts returned")
)

// AuthError reports a rejected or unusable response from the token or identity endpoint.
// Authentication failures point at configuration, so they are never retried.
type AuthError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth: %s failed (%d): %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("auth: %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Service handles the token exchange and account resolution.
type Service struct {
	http     *http.Client
	identity Identity
	now      func() time.Time
}

// NewService creates an authentication service that talks to identity.AuthServer.
func NewService(httpClient *http.Client, identity Identity) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		http:     httpClient,
		identity: identity,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Authenticate acquires a token and resolves the account it acts for.
func (s *Service) Authenticate(ctx context.Context) (Session, error) {
	token, err := s.FetchAccessToken(ctx)
	if err != nil {
		return Session{}, err
	}
	account, err := s.ResolveAccount(ctx, token)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Account: account}, nil
}

// FetchAccessToken exchanges a freshly signed assertion for a bearer token.
func (s *Service) FetchAccessToken(ctx context.Context) (AccessToken, error) {
	assertion, err := BuildAssertion(s.identity, s.now())
	if err != nil {
		return AccessToken{}, err
	}

	form := url.Values{}
	form.Set("grant_type", JWTBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("/oauth/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return AccessToken{}, fmt.Errorf("auth: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var token AccessToken
	if err := s.doJSON(req, "token request", &token); err != nil {
		return AccessToken{}, err
	}

	if token.AccessToken == "" {
		return AccessToken{}, &AuthError{Op: "token request", Err: errors.New("response has no access_token")}
	}
	if token.ExpiresIn < 1 {
		return AccessToken{}, &AuthError{Op: "token request", Err: fmt.Errorf("invalid expires_in %d", token.ExpiresIn)}
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	return token, nil
}

func (s *Service) endpoint(path string) string {
	return strings.TrimRight(s.identity.AuthServer, "/") + path
}

func (s *Service) doJSON(req *http.Request, op string, out any) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return &AuthError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &AuthError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &AuthError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
