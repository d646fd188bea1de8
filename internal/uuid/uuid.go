// Package uuid provides record id generation and validation.
package uuid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Canonical v4 form: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx, y in [89ab].
var uuidV4Regex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// New generates a new lowercase UUID v4 string.
func New() string {
	return uuid.New().String()
}

// NewV7 generates a time-ordered UUID v7 string, falling back to v4.
func NewV7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}

// Normalize parses any UUID form accepted by google/uuid (braces, urn prefix,
// upper case) and returns the canonical lowercase string.
func Normalize(s string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return id.String(), nil
}

// IsValid checks if a string is a canonical lowercase UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a canonical UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
