// Package config defines the runtime settings for an agreement download run.
//
// Settings are layered in this order, later sources winning:
//   - Default()
//   - an optional YAML file (LoadFromFile)
//   - environment variables with the DS_ prefix (LoadFromEnv)
//
// Load applies all three and validates the result. Every validation failure
// wraps ErrInvalid so callers can map it to a single exit status.
//
//	DS_AUTH_SERVER            OAuth base URL, e.g. https://account-d.docusign.com
//	DS_INTEGRATION_KEY        client id used as the assertion issuer
//	DS_USER_ID                impersonated user id used as the assertion subject
//	DS_PRIVATE_KEY_PEM_PATH   RSA private key used to sign the assertion
//	DS_SCOPES                 default "signature impersonation"
//	DS_HTTP_TIMEOUT_S         per-request timeout in seconds, default 30
//	DS_WORKERS                document downloads in flight per envelope, default 1
//	DS_RETRY_ATTEMPTS         total attempts per data call, default 7
//	DS_RETRY_BACKOFF          first backoff, default 500ms
//	DS_RETRY_MAX_BACKOFF      backoff ceiling, default 30s
package config
