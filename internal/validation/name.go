package validation

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidUsername = errors.New("invalid username")

// ValidateUsername checks that a caller's username is usable as the first
// segment of a blob path.
func ValidateUsername(name string) error {
	trimmed := strings.TrimSpace(name)

	if trimmed == "" {
		return fmt.Errorf("%w: required", ErrInvalidUsername)
	}

	if len(trimmed) > 100 {
		return fmt.Errorf("%w: too long (max 100 characters)", ErrInvalidUsername)
	}

	if trimmed != name || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: contains characters not allowed in a path", ErrInvalidUsername)
	}

	return nil
}
