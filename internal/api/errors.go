package api

import (
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ErrUnauthorized marks responses where the server rejected our
// credentials (401/403). The refresh coordinator treats it as terminal for
// the session; everything else is transient and retryable.
var ErrUnauthorized = errors.New("unauthorized")

// handleError promotes failing responses (>399 status code) to errors.
// Without this, failing responses would have nil error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.StatusCode() == 401 || res.StatusCode() == 403 {
		return res, fmt.Errorf("request failed: %s %s (status: %d): %w",
			res.Request.Method, res.Request.URL, res.StatusCode(), ErrUnauthorized)
	}
	if res.IsError() {
		return res, fmt.Errorf("request failed: %s %s (status: %d)",
			res.Request.Method, res.Request.URL, res.StatusCode())
	}
	return res, nil
}

// IsAuthFailure reports whether err means the session itself was rejected,
// as opposed to a transient transport or server problem.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
