package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/promptopt/internal/adapters/circuitbreaker"
	"github.com/longregen/promptopt/internal/domain"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"connection refused", &net.OpError{Err: syscall.ECONNREFUSED}, true},
		{"connection reset", &net.OpError{Err: syscall.ECONNRESET}, true},
		{"broken pipe", fmt.Errorf("write: %w", syscall.EPIPE), true},
		{"dns temporary", &net.DNSError{Err: "server misbehaving", IsTemporary: true}, true},
		{"dns not found", &net.DNSError{Err: "no such host", IsNotFound: true}, false},
		{"generic", errors.New("some error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestTransientStatus(t *testing.T) {
	tests := []struct {
		code     int
		expected bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{599, true},
		{600, false},
	}

	for _, tt := range tests {
		if got := TransientStatus(tt.code); got != tt.expected {
			t.Errorf("TransientStatus(%d) = %v, want %v", tt.code, got, tt.expected)
		}
	}
}

func TestIsRetryableOracleError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, false},
		{"wrapped api error", fmt.Errorf("chat: %w", &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable}), true},
		{"request error with status", &openai.RequestError{HTTPStatusCode: http.StatusGatewayTimeout, Err: errors.New("upstream")}, true},
		{"request error with conn refused", &openai.RequestError{Err: &net.OpError{Err: syscall.ECONNREFUSED}}, true},
		{"schema mismatch", fmt.Errorf("%w: missing field", domain.ErrSchemaMismatch), false},
		{"breaker open", circuitbreaker.ErrCircuitOpen, false},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("nope"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableOracleError(tt.err); got != tt.expected {
				t.Errorf("IsRetryableOracleError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
