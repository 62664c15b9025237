package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeAuthServer struct {
	tokenStatus    int
	tokenBody      string
	userinfoStatus int
	userinfoBody   string

	gotAssertion string
	gotGrant     string
	gotBearer    string
}

func (f *fakeAuthServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.gotGrant = r.PostForm.Get("grant_type")
		f.gotAssertion = r.PostForm.Get("assertion")
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("GET /oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.gotBearer = r.Header.Get("Authorization")
		w.WriteHeader(f.userinfoStatus)
		_, _ = w.Write([]byte(f.userinfoBody))
	})
	return mux
}

func newFakeAuthServer() *fakeAuthServer {
	return &fakeAuthServer{
		tokenStatus:    http.StatusOK,
		tokenBody:      `{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`,
		userinfoStatus: http.StatusOK,
		userinfoBody:   `{"accounts":[{"account_id":"acct-1","base_uri":"https://na1.example.com","is_default":true}]}`,
	}
}

func newTestService(t *testing.T, fake *fakeAuthServer) *Service {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	_, keyPEM := newTestKey(t)
	id := testIdentity(keyPEM)
	id.AuthServer = srv.URL + "/"
	return NewService(srv.Client(), id)
}

func TestService_Authenticate(t *testing.T) {
	fake := newFakeAuthServer()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, fake).WithClock(func() time.Time { return now })

	sess, err := svc.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if fake.gotGrant != JWTBearerGrant {
		t.Errorf("grant_type = %q", fake.gotGrant)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(fake.gotAssertion, claims); err != nil {
		t.Fatalf("parse assertion: %v", err)
	}
	if int64(claims["iat"].(float64)) != now.Unix() {
		t.Errorf("assertion not issued with injected clock: %v", claims["iat"])
	}

	if sess.Token.AccessToken != "tok-123" || sess.Token.ExpiresIn != 3600 {
		t.Errorf("unexpected token: %+v", sess.Token)
	}
	if fake.gotBearer != "Bearer tok-123" {
		t.Errorf("userinfo Authorization = %q", fake.gotBearer)
	}
	if sess.Account.AccountID != "acct-1" || sess.Account.BaseURI != "https://na1.example.com" {
		t.Errorf("unexpected account: %+v", sess.Account)
	}
}

func TestService_TokenRejected(t *testing.T) {
	fake := newFakeAuthServer()
	fake.tokenStatus = http.StatusBadRequest
	fake.tokenBody = `{"error":"consent_required"}`
	svc := newTestService(t, fake)

	_, err := svc.Authenticate(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", authErr.StatusCode)
	}
	if !strings.Contains(authErr.Body, "consent_required") {
		t.Errorf("body = %q", authErr.Body)
	}
	if fake.gotBearer != "" {
		t.Error("userinfo must not be called after a failed token exchange")
	}
}

func TestService_TokenValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing access token", `{"token_type":"Bearer","expires_in":3600}`},
		{"zero expiry", `{"access_token":"tok","expires_in":0}`},
		{"malformed json", `{"access_token":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeAuthServer()
			fake.tokenBody = tt.body
			_, err := newTestService(t, fake).FetchAccessToken(context.Background())
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthError, got %v", err)
			}
		})
	}
}

func TestService_TokenTypeDefaultsToBearer(t *testing.T) {
	fake := newFakeAuthServer()
	fake.tokenBody = `{"access_token":"tok","expires_in":60}`
	tok, err := newTestService(t, fake).FetchAccessToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.TokenType != "Bearer" {
		t.Errorf("token type = %q", tok.TokenType)
	}
}

func TestService_UserinfoRejected(t *testing.T) {
	fake := newFakeAuthServer()
	fake.userinfoStatus = http.StatusUnauthorized
	fake.userinfoBody = "expired"

	_, err := newTestService(t, fake).Authenticate(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 AuthError, got %v", err)
	}
}

func TestSelectAccount(t *testing.T) {
	decode := func(t *testing.T, body string) []userinfoAccount {
		t.Helper()
		var resp userinfoResponse
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.Accounts
	}

	tests := []struct {
		name    string
		body    string
		wantID  string
		wantURI string
	}{
		{
			name:    "default wins regardless of order",
			body:    `{"accounts":[{"account_id":"a1","base_uri":"https://one","is_default":false},{"account_id":"a2","base_uri":"https://two","is_default":true}]}`,
			wantID:  "a2",
			wantURI: "https://two",
		},
		{
			name:    "default first",
			body:    `{"accounts":[{"account_id":"a2","base_uri":"https://two","is_default":true},{"account_id":"a1","base_uri":"https://one"}]}`,
			wantID:  "a2",
			wantURI: "https://two",
		},
		{
			name:    "no default picks first",
			body:    `{"accounts":[{"account_id":"a1","base_uri":"https://one"},{"account_id":"a2","base_uri":"https://two"}]}`,
			wantID:  "a1",
			wantURI: "https://one",
		},
		{
			name:    "camel case spelling",
			body:    `{"accounts":[{"accountId":"a3","baseUri":"https://three","is_default":"true"}]}`,
			wantID:  "a3",
			wantURI: "https://three",
		},
		{
			name:    "snake case wins over camel case",
			body:    `{"accounts":[{"account_id":"snake","accountId":"camel","base_uri":"https://snake","baseUri":"https://camel"}]}`,
			wantID:  "snake",
			wantURI: "https://snake",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectAccount(decode(t, tt.body))
			if err != nil {
				t.Fatalf("selectAccount: %v", err)
			}
			if got.AccountID != tt.wantID || got.BaseURI != tt.wantURI {
				t.Fatalf("got %+v, want %s at %s", got, tt.wantID, tt.wantURI)
			}
		})
	}
}

func TestSelectAccount_Unusable(t *testing.T) {
	if _, err := selectAccount(nil); !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("expected ErrNoAccounts, got %v", err)
	}

	_, err := selectAccount([]userinfoAccount{{AccountID: "a1"}})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError for missing base_uri, got %v", err)
	}
}
