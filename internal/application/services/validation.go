package services

import (
	"fmt"
	"strings"

	"github.com/longregen/promptopt/internal/domain"
)

// Identifier prefixes as issued by the id adapter.
const (
	runIDPrefix    = "aor_"
	promptIDPrefix = "apc_"
)

// ValidateID checks that an ID is present and carries the expected prefix
func ValidateID(id, prefix, entityType string) error {
	if id == "" {
		return domain.NewDomainError(domain.ErrInvalidID, entityType+" ID cannot be empty")
	}
	if !strings.HasPrefix(id, prefix) || len(id) == len(prefix) {
		return domain.NewDomainError(domain.ErrInvalidID,
			fmt.Sprintf("%s ID must start with %q (got: %s)", entityType, prefix, id))
	}
	return nil
}

// ValidateRange checks that a number is within the specified range (inclusive)
func ValidateRange(value int, fieldName string, min, max int) error {
	if value < min {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s must be at least %d (got %d)", fieldName, min, value))
	}
	if value > max {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s must be at most %d (got %d)", fieldName, max, value))
	}
	return nil
}

func validateRunID(id string) error {
	return ValidateID(id, runIDPrefix, "run")
}

func validatePromptID(id string) error {
	return ValidateID(id, promptIDPrefix, "prompt")
}
