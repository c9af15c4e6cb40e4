package queue

import (
	"fmt"
	"strings"
	"time"
)

const maxBroadcastLength = 500

// SetBroadcast replaces any active advisory with a new one.
func (s *Snapshot) SetBroadcast(message string, sev Severity, now time.Time) (Broadcast, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Broadcast{}, fmt.Errorf("%w: broadcast message is required", ErrValidation)
	}
	if len(message) > maxBroadcastLength {
		return Broadcast{}, fmt.Errorf("%w: broadcast message exceeds %d characters", ErrValidation, maxBroadcastLength)
	}
	sev, err := ParseSeverity(string(sev))
	if err != nil {
		return Broadcast{}, err
	}

	b := Broadcast{Message: message, Severity: sev, Timestamp: now.UTC()}
	s.Broadcast = &b
	return b, nil
}

// ClearBroadcast removes the active advisory and reports whether one existed.
func (s *Snapshot) ClearBroadcast() bool {
	active := s.Broadcast != nil
	s.Broadcast = nil
	return active
}
