package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoCredential is returned by Analyze when the ordered credential list is
// empty. No HTTP request is attempted in that case.
var ErrNoCredential = errors.New("no API credential configured")

// HTTPError is a non-200 provider response. The raw body is carried as the
// error payload so callers can surface the provider's own message.
type HTTPError struct {
	Provider Provider
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s HTTP %d: %s", e.Provider, e.Status, e.Body)
}

// Rotatable reports whether the failure is credential-specific, i.e. whether
// trying the next credential in the ordered list can help. Rate limits,
// server errors and auth rejections rotate; anything else aborts the loop.
func (e *HTTPError) Rotatable() bool {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden:
		return true
	default:
		return false
	}
}

// IsAuthError reports whether err is a 401-class provider rejection. The
// consumer uses this to distinguish "authentication exhausted" (prompt for a
// new key) from generic failure (offer a retry).
func IsAuthError(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == http.StatusUnauthorized
	}
	return false
}
