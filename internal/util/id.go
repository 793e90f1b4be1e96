package util

import "github.com/google/uuid"

// NewID returns a time-ordered UUID so ids sort roughly by creation.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
