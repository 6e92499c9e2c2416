package utils

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewConnectionID returns a unique identifier for one transport connection.
func NewConnectionID() string {
	return uuid.NewString()
}

// NewParticipantLabel returns a short human-friendly participant label.
func NewParticipantLabel() string {
	id := uuid.NewString()
	if len(id) >= 6 {
		return id[:6]
	}
	// Fallback to timestamp if uuid generation ever misbehaves.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
