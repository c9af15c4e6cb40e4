package queue

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartslot/smartslot/internal/domain/triage"
)

// Status is the lifecycle state of a patient record.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusCalled  Status = "called"
	StatusServed  Status = "served"
	StatusMissed  Status = "missed"
)

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusWaiting, StatusCalled, StatusServed, StatusMissed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
}

// Terminal reports whether no transition may leave st.
func (st Status) Terminal() bool {
	return st == StatusServed || st == StatusMissed
}

// Intake is the admission document: demographics plus triage answers.
type Intake struct {
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	NationalID string `json:"national_id,omitempty"`
	triage.Answers
}

// Patient is a queue entry. Position and EstimatedWaitMinutes are only
// recomputed while Status is waiting; afterwards they keep their last value.
type Patient struct {
	ID                   uuid.UUID      `json:"id"`
	TokenNumber          string         `json:"token_number"`
	Name                 string         `json:"name,omitempty"`
	Phone                string         `json:"phone,omitempty"`
	NationalID           string         `json:"national_id,omitempty"`
	Urgency              triage.Urgency `json:"urgency"`
	ClassifiedBy         triage.Source  `json:"classified_by,omitempty"`
	ArrivalTime          time.Time      `json:"arrival_time"`
	Status               Status         `json:"status"`
	StatusChangedAt      *time.Time     `json:"status_changed_at,omitempty"`
	Position             int            `json:"position"`
	EstimatedWaitMinutes int            `json:"estimated_wait_minutes"`
	Triage               triage.Answers `json:"triage"`
}

func (p Patient) clone() Patient {
	c := p
	c.Triage = p.Triage.Clone()
	if p.StatusChangedAt != nil {
		t := *p.StatusChangedAt
		c.StatusChangedAt = &t
	}
	return c
}

// Severity classifies a broadcast advisory.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityEmergency Severity = "emergency"
)

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityInfo, SeverityWarning, SeverityEmergency:
		return sev, nil
	default:
		return "", fmt.Errorf("%w: unknown severity %q (valid: info, warning, emergency)", ErrValidation, s)
	}
}

// Broadcast is the single system-wide advisory message.
type Broadcast struct {
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the complete queue state. Patients are kept in insertion
// order; priority order is derived by Recompute.
type Snapshot struct {
	Patients           []Patient  `json:"patients"`
	NextTokenSequence  int        `json:"next_token_sequence"`
	TotalServed        int        `json:"total_served"`
	AverageWaitMinutes int        `json:"average_wait_minutes"`
	Broadcast          *Broadcast `json:"broadcast,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewSnapshot returns an empty queue whose first token is T001.
func NewSnapshot() *Snapshot {
	return &Snapshot{Patients: []Patient{}, NextTokenSequence: 1}
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Patients = make([]Patient, len(s.Patients))
	for i, p := range s.Patients {
		c.Patients[i] = p.clone()
	}
	if s.Broadcast != nil {
		b := *s.Broadcast
		c.Broadcast = &b
	}
	return &c
}

// FormatToken renders a token sequence number as T001, T002, ...
func FormatToken(seq int) string {
	return fmt.Sprintf("T%03d", seq)
}

// parseToken returns the sequence number of a formatted token.
func parseToken(token string) (int, bool) {
	if !strings.HasPrefix(token, "T") {
		return 0, false
	}
	n, err := strconv.Atoi(token[1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Normalize repairs counters of a snapshot read back from storage so that
// new tokens never collide with stored ones and the served counter matches
// the served records.
func (s *Snapshot) Normalize() {
	if s.Patients == nil {
		s.Patients = []Patient{}
	}
	next := s.NextTokenSequence
	if next < 1 {
		next = 1
	}
	served := 0
	for _, p := range s.Patients {
		if n, ok := parseToken(p.TokenNumber); ok && n >= next {
			next = n + 1
		}
		if p.Status == StatusServed {
			served++
		}
	}
	s.NextTokenSequence = next
	s.TotalServed = served
}

func (s *Snapshot) indexByID(id uuid.UUID) int {
	for i := range s.Patients {
		if s.Patients[i].ID == id {
			return i
		}
	}
	return -1
}

// FindByID returns a copy of the patient with id.
func (s *Snapshot) FindByID(id uuid.UUID) (Patient, error) {
	i := s.indexByID(id)
	if i < 0 {
		return Patient{}, fmt.Errorf("%w: patient %s", ErrNotFound, id)
	}
	return s.Patients[i].clone(), nil
}

// FindByToken returns a copy of the patient holding token.
func (s *Snapshot) FindByToken(token string) (Patient, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	for i := range s.Patients {
		if s.Patients[i].TokenNumber == token {
			return s.Patients[i].clone(), nil
		}
	}
	return Patient{}, fmt.Errorf("%w: token %s", ErrNotFound, token)
}

// Waiting returns the waiting patients in position order.
func (s *Snapshot) Waiting() []Patient {
	out := make([]Patient, 0, len(s.Patients))
	for _, p := range s.Patients {
		if p.Status == StatusWaiting {
			out = append(out, p.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Current returns the waiting patient at position 1. ok is false when
// nobody is waiting.
func (s *Snapshot) Current() (p Patient, ok bool) {
	for i := range s.Patients {
		if s.Patients[i].Status == StatusWaiting && s.Patients[i].Position == 1 {
			return s.Patients[i].clone(), true
		}
	}
	return Patient{}, false
}

// Stats summarizes the queue for dashboards.
type Stats struct {
	Total              int                    `json:"total"`
	Waiting            int                    `json:"waiting"`
	Called             int                    `json:"called"`
	Served             int                    `json:"served"`
	Missed             int                    `json:"missed"`
	WaitingByUrgency   map[triage.Urgency]int `json:"waiting_by_urgency"`
	AverageWaitMinutes int                    `json:"average_wait_minutes"`
	TotalServed        int                    `json:"total_served"`
	CurrentToken       string                 `json:"current_token,omitempty"`
	Broadcast          *Broadcast             `json:"broadcast,omitempty"`
}

// Stats computes counts by status and urgency.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Total: len(s.Patients),
		WaitingByUrgency: map[triage.Urgency]int{
			triage.UrgencyHigh:   0,
			triage.UrgencyMedium: 0,
			triage.UrgencyLow:    0,
		},
		AverageWaitMinutes: s.AverageWaitMinutes,
		TotalServed:        s.TotalServed,
	}
	for _, p := range s.Patients {
		switch p.Status {
		case StatusWaiting:
			st.Waiting++
			st.WaitingByUrgency[p.Urgency]++
		case StatusCalled:
			st.Called++
		case StatusServed:
			st.Served++
		case StatusMissed:
			st.Missed++
		}
	}
	if cur, ok := s.Current(); ok {
		st.CurrentToken = cur.TokenNumber
	}
	if s.Broadcast != nil {
		b := *s.Broadcast
		st.Broadcast = &b
	}
	return st
}
