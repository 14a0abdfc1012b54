package ids

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// New returns a random UUID for persisted entities.
func New() string {
	return uuid.NewString()
}

// NewTokenID returns a time-ordered id used as a token's jti.
func NewTokenID() string {
	return ksuid.New().String()
}

func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
