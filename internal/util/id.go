package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether value is a canonical UUID as issued by NewID.
func ValidID(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}
