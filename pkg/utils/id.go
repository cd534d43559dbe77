package utils

import (
	"github.com/google/uuid"
)

// NewSessionID returns a random UUID v4 identifying one peer session.
func NewSessionID() string {
	return uuid.NewString()
}

// ShortID returns the first 8 characters of an id, for log lines.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
