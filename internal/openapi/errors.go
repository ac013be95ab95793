package openapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned when the API rejects the access token even
// after one refresh.
var ErrUnauthorized = errors.New("openapi: unauthorized")

// APIError is a non-success answer from the open API.
type APIError struct {
	Status int    // HTTP status
	Code   int    // platform result code, 0 when absent
	Msg    string // platform message or raw body excerpt
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("openapi: status %d code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("openapi: status %d: %s", e.Status, e.Msg)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
