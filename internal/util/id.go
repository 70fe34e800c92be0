package util

import (
	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string used as a job identifier.
func NewID() string {
	return uuid.NewString()
}

// IsValidID reports whether s is a canonical UUID string as produced by NewID.
func IsValidID(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.String() == s
}
