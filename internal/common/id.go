package common

import (
	"github.com/google/uuid"
)

// NewSubscriberID generates a unique subscriber ID with the "sub_" prefix
func NewSubscriberID() string {
	return "sub_" + uuid.New().String()
}

// NewInstanceID generates the ID a server reports for its lifetime.
// Clients use it to detect restarts and drop stale state.
func NewInstanceID() string {
	return uuid.New().String()
}
