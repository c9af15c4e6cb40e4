package queue

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSnapshot_SetBroadcast(t *testing.T) {
	s := NewSnapshot()
	b, err := s.SetBroadcast("  Power outage in wing B  ", "Warning", baseTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Message != "Power outage in wing B" {
		t.Errorf("expected trimmed message, got %q", b.Message)
	}
	if b.Severity != SeverityWarning {
		t.Errorf("expected warning, got %s", b.Severity)
	}
	if s.Broadcast == nil || *s.Broadcast != b {
		t.Errorf("expected broadcast stored, got %+v", s.Broadcast)
	}
}

func TestSnapshot_SetBroadcastLastWriteWins(t *testing.T) {
	s := NewSnapshot()
	s.SetBroadcast("first", SeverityInfo, baseTime)
	s.SetBroadcast("second", SeverityEmergency, baseTime.Add(time.Minute))
	if s.Broadcast.Message != "second" || s.Broadcast.Severity != SeverityEmergency {
		t.Errorf("expected second broadcast, got %+v", s.Broadcast)
	}
}

func TestSnapshot_SetBroadcastValidation(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		severity Severity
	}{
		{"empty", "", SeverityInfo},
		{"blank", "   ", SeverityInfo},
		{"too long", strings.Repeat("x", maxBroadcastLength+1), SeverityInfo},
		{"unknown severity", "hello", "critical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSnapshot()
			if _, err := s.SetBroadcast(tt.message, tt.severity, baseTime); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			if s.Broadcast != nil {
				t.Error("broadcast should not be set")
			}
		})
	}
}

func TestSnapshot_ClearBroadcast(t *testing.T) {
	s := NewSnapshot()
	if s.ClearBroadcast() {
		t.Error("expected false with no active broadcast")
	}
	s.SetBroadcast("msg", SeverityInfo, baseTime)
	if !s.ClearBroadcast() {
		t.Error("expected true when clearing active broadcast")
	}
	if s.Broadcast != nil {
		t.Error("expected broadcast removed")
	}
}
