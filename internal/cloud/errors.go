package cloud

import "fmt"

// AuthError indicates the credentials were rejected or a token refresh was
// exhausted. It is terminal: the host must re-authenticate.
type AuthError struct {
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Detail)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError indicates the remote service returned an error response.
type APIError struct {
	Op     string
	Status int    // HTTP status, 0 if the error was in the response body
	Code   string // service error code, if any
	Detail string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: api error (%d): %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: api error %s: %s", e.Op, e.Code, e.Detail)
}

// NetworkError indicates a transport-level failure (connect, timeout, TLS).
// The cache layers surface it unchanged; retrying is the caller's concern.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
