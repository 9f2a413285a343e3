package services

import (
	"errors"
	"testing"

	"github.com/longregen/promptopt/internal/domain"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		prefix    string
		wantError bool
	}{
		{name: "valid run ID", id: "aor_V1StGXR8Z5jdHi6B", prefix: runIDPrefix},
		{name: "valid prompt ID", id: "apc_1", prefix: promptIDPrefix},
		{name: "empty", id: "", prefix: runIDPrefix, wantError: true},
		{name: "wrong prefix", id: "apc_1", prefix: runIDPrefix, wantError: true},
		{name: "prefix only", id: "aor_", prefix: runIDPrefix, wantError: true},
		{name: "no separator", id: "aor1", prefix: runIDPrefix, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id, tt.prefix, "entity")
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateID(%q) error = %v, wantError %v", tt.id, err, tt.wantError)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidID) {
				t.Errorf("expected ErrInvalidID, got %v", err)
			}
		})
	}
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"at minimum", 0, false},
		{"inside", 5, false},
		{"at maximum", 10, false},
		{"below", -1, true},
		{"above", 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRange(tt.value, "track", 0, 10)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateRange(%d) error = %v, wantError %v", tt.value, err, tt.wantError)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
