package fetcher

import (
	"fmt"
	"net/http"
)

// FetchError describes the last failure of a request after retries.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error

	network bool
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed with status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed: connection
// failures and 500, 502, 504 responses.
func (e *FetchError) Retryable() bool {
	if e.network {
		return true
	}
	switch e.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (e *FetchError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}
