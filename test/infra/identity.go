package infra

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"agreementexport/auth"
)

const (
	IntegrationKey = "ik-0000000000000001"
	UserID         = "user-0000000000000001"
)

// WriteKey generates an RSA key, stores it as PKCS#8 PEM under a temp dir and
// returns the file path and the PEM bytes.
func WriteKey(t testing.TB) (string, []byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	path := filepath.Join(t.TempDir(), "private.pem")
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path, pemBytes, key
}

// Identity returns the credentials the fake server accepts.
func Identity(s *ESignServer, keyPEM []byte) auth.Identity {
	return auth.Identity{
		IntegrationKey: IntegrationKey,
		UserID:         UserID,
		PrivateKeyPEM:  keyPEM,
		Scopes:         "signature impersonation",
		AuthServer:     s.URL,
	}
}

// SetEnv points the DS_ environment at s. Not usable from parallel tests.
func SetEnv(t testing.TB, s *ESignServer, keyPath string) {
	t.Helper()
	t.Setenv("DS_AUTH_SERVER", s.URL)
	t.Setenv("DS_INTEGRATION_KEY", IntegrationKey)
	t.Setenv("DS_USER_ID", UserID)
	t.Setenv("DS_PRIVATE_KEY_PEM_PATH", keyPath)
	t.Setenv("DS_HTTP_TIMEOUT_S", "10")
	t.Setenv("DS_RETRY_BACKOFF", "1ms")
	t.Setenv("DS_RETRY_MAX_BACKOFF", "5ms")
}
