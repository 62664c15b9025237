package auth

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
)

type userinfoResponse struct {
	Accounts []userinfoAccount `json:"accounts"`
}

// userinfoAccount accepts both spellings the identity endpoint has used.
// The snake_case field wins when both are present.
type userinfoAccount struct {
	AccountID      string   `json:"account_id"`
	AccountIDCamel string   `json:"accountId"`
	BaseURI        string   `json:"base_uri"`
	BaseURICamel   string   `json:"baseUri"`
	AccountName    string   `json:"account_name"`
	IsDefault      flexBool `json:"is_default"`
}

// flexBool decodes true, "true" and "True" as true; anything else is false.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		*b = true
	case bytes.EqualFold(data, []byte(`"true"`)):
		*b = true
	default:
		*b = false
	}
	return nil
}

// ResolveAccount looks up the accounts token may act for and picks one: the
// account flagged default, otherwise the first returned.
func (s *Service) ResolveAccount(ctx context.Context, token AccessToken) (Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("/oauth/userinfo"), nil)
	if err != nil {
		return Account{}, fmt.Errorf("auth: create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	var body userinfoResponse
	if err := s.doJSON(req, "userinfo request", &body); err != nil {
		return Account{}, err
	}
	return selectAccount(body.Accounts)
}

func selectAccount(accounts []userinfoAccount) (Account, error) {
	if len(accounts) == 0 {
		return Account{}, &AuthError{Op: "userinfo request", Err: ErrNoAccounts}
	}

	chosen := accounts[0]
	for _, a := range accounts {
		if a.IsDefault {
			chosen = a
			break
		}
	}

	account := Account{
		AccountID:   firstNonEmpty(chosen.AccountID, chosen.AccountIDCamel),
		BaseURI:     firstNonEmpty(chosen.BaseURI, chosen.BaseURICamel),
		AccountName: chosen.AccountName,
		IsDefault:   bool(chosen.IsDefault),
	}
	if account.AccountID == "" || account.BaseURI == "" {
		return Account{}, &AuthError{
			Op:  "userinfo request",
			Err: fmt.Errorf("account missing base_uri/account_id: %+v", account),
		}
	}
	return account, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
