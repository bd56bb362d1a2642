package xclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrNotFound    = errors.New("x api: not found")
	ErrRateLimited = errors.New("x api: rate limited")
	ErrForbidden   = errors.New("x api: forbidden")
	ErrUnreachable = errors.New("x api: unreachable")
)

// APIError carries the endpoint and status of a failed call. It unwraps to one of
// the sentinel errors above so callers can branch with errors.Is.
type APIError struct {
	Endpoint   string
	Status     int
	RetryAfter time.Duration
	Kind       error
	// Err is the underlying transport or API detail, if any.
	Err error
}

func (e *APIError) Error() string {
	msg := e.Endpoint + ": " + e.Kind.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d: %v", e.Endpoint, e.Status, e.Kind)
	}
	if e.Err != nil && e.Err.Error() != "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Kind }

// statusError maps a non-2xx response to an APIError. Returns nil for success codes.
func statusError(endpoint string, resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	e := &APIError{Endpoint: endpoint, Status: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = ErrRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = ErrForbidden
	case resp.StatusCode >= 500:
		e.Kind = ErrUnreachable
	default:
		e.Kind = fmt.Errorf("x api: unexpected status %d", resp.StatusCode)
	}
	return e
}

func parseRetryAfter(h http.Header) time.Duration {
	if ra := h.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(ra); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	// X sends the window reset as epoch seconds
	if reset := h.Get("x-rate-limit-reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}

// IsSoft reports whether err is a failure the caller should log and move past
// without retrying in the same cycle.
func IsSoft(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrForbidden)
}
