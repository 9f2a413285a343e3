package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/promptopt/internal/adapters/circuitbreaker"
	"github.com/longregen/promptopt/internal/domain"
)

// IsTransient reports network failures worth another attempt: timeouts,
// refused or reset connections and DNS lookups that did not get a definitive
// answer.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// TransientStatus reports HTTP statuses an endpoint may answer differently
// on the next attempt.
func TransientStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500 && code < 600:
		return true
	}
	return false
}

// IsRetryableOracleError classifies failures from OpenAI-compatible endpoints.
// Rate limits, timeouts and 5xx responses are transient. Schema mismatches,
// an open breaker and other 4xx responses are not.
func IsRetryableOracleError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrSchemaMismatch) || errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return TransientStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode > 0 {
			return TransientStatus(reqErr.HTTPStatusCode)
		}
		return IsTransient(reqErr.Err)
	}

	return IsTransient(err)
}
