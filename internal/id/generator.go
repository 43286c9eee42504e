package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewMessageID returns a time-ordered identifier for a chat message.
func NewMessageID() string {
	return newIdentifier("msg")
}

// NewRequestID returns an identifier for an inbound request that did not carry one.
func NewRequestID() string {
	return newIdentifier("req")
}

// NewWidgetID returns an identifier for a widget created without an explicit id.
func NewWidgetID() string {
	return newIdentifier("widget")
}

// NewSessionID returns an identifier for a session started without one.
func NewSessionID() string {
	return newIdentifier("session")
}

func newIdentifier(prefix string) string {
	body, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, body.String())
}
