package models

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string, so sorting by id follows creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
