package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	ErrTimeout = errors.New("llm request timed out")
	ErrAuth    = errors.New("llm authentication failed")
	ErrQuota   = errors.New("llm quota exceeded")
	ErrNetwork = errors.New("llm network error")
	ErrRemote  = errors.New("llm remote error")
)

// StatusError is returned by the client transport for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Body)
}

// Classify wraps err with one of the sentinel errors. Already classified errors
// are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrTimeout, ErrAuth, ErrQuota, ErrNetwork, ErrRemote} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", kind(err), err)
}

func kind(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return kindForStatus(statusErr.Code)
	}
	// the client library may flatten the transport error into text
	if code, ok := statusFromText(err.Error()); ok {
		return kindForStatus(code)
	}

	if errors.As(err, &netErr) {
		return ErrNetwork
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return ErrNetwork
	}
	return ErrRemote
}

func kindForStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusTooManyRequests:
		return ErrQuota
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return ErrTimeout
	default:
		return ErrRemote
	}
}

func statusFromText(msg string) (int, bool) {
	for _, code := range []int{
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusGatewayTimeout,
	} {
		for _, pattern := range []string{"status %d", "status code: %d", "status code %d"} {
			if strings.Contains(msg, fmt.Sprintf(pattern, code)) {
				return code, true
			}
		}
	}
	return 0, false
}
