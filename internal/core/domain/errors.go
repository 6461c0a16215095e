package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound means the category index is missing entirely.
	// Startup-blocking for whichever process owns the catalog.
	ErrConfigNotFound = errors.New("category index not found")

	// ErrCategoryLoad marks a single category definition that failed to
	// parse. The catalog logs and continues without it.
	ErrCategoryLoad = errors.New("category definition load failed")

	// ErrParseFailure is the only fatal per-document condition: text
	// extraction failed or the input was rejected.
	ErrParseFailure = errors.New("document parse failure")

	// ErrFallbackUnavailable means escalation was attempted but no
	// usable classification was obtained.
	ErrFallbackUnavailable = errors.New("fallback classifier unavailable")

	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrTemporary    = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
