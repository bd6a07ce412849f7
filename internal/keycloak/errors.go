package keycloak

import "fmt"

// AuthError reports that the identity provider rejected our credentials
// (HTTP 401/403), either on the token endpoint or on an admin call after
// the cached token was invalidated and re-acquired once.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("keycloak: authentication rejected (status %d)", e.StatusCode)
}

// RequestError reports a transport failure or an unexpected response from the
// identity provider. Err is set for transport-level failures; StatusCode and
// Body are set for HTTP responses outside 2xx.
type RequestError struct {
	Op         string // "token", "list users", "count users"
	StatusCode int
	Body       string // response body snippet, for diagnostics
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keycloak: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("keycloak: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error { return e.Err }
