package auth

// Identity is the credential set used to obtain a token. It is loaded once per run.
type Identity struct {
	IntegrationKey string
	UserID         string
	PrivateKeyPEM  []byte
	Scopes         string
	// AuthServer is the OAuth base URL; it is also the assertion audience.
	AuthServer string
}

// AccessToken is the bearer token returned by the token endpoint. It lives for one run
// and is never persisted.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Account is the account context every data call is scoped to.
type Account struct {
	AccountID   string
	AccountName string
	BaseURI     string
	IsDefault   bool
}

// Session bundles the token and account resolved at the start of a run.
// It is passed by value and never mutated.
type Session struct {
	Token   AccessToken
	Account Account
}
