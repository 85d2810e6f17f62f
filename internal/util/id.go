package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string used as a job id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s parses as a UUID.
func ValidID(s string) bool {
	return uuid.Validate(s) == nil
}
