package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AssertionLifetime is how long a signed assertion stays valid after issuance.
const AssertionLifetime = time.Hour

// SigningError reports a key that cannot be parsed or a signature that cannot
// be produced. Retrying never helps.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("auth: sign assertion: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// BuildAssertion signs an RS256 JWT bearer assertion for id, issued at now.
// The result depends only on its arguments.
func BuildAssertion(id Identity, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(id.PrivateKeyPEM)
	if err != nil {
		return "", &SigningError{Err: err}
	}

	issued := now.Unix()
	claims := jwt.MapClaims{
		"iss":   id.IntegrationKey,
		"sub":   id.UserID,
		"aud":   id.AuthServer,
		"iat":   issued,
		"nbf":   issued,
		"exp":   issued + int64(AssertionLifetime/time.Second),
		"scope": id.Scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", &SigningError{Err: err}
	}
	return signed, nil
}
