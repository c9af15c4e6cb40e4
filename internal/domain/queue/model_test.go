package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/smartslot/smartslot/internal/domain/triage"
)

func TestFormatToken(t *testing.T) {
	tests := map[int]string{1: "T001", 42: "T042", 999: "T999", 1000: "T1000"}
	for seq, want := range tests {
		if got := FormatToken(seq); got != want {
			t.Errorf("FormatToken(%d) = %s, want %s", seq, got, want)
		}
	}
}

func TestSnapshot_Normalize(t *testing.T) {
	s := &Snapshot{
		Patients: []Patient{
			{TokenNumber: "T003", Status: StatusServed},
			{TokenNumber: "T007", Status: StatusWaiting},
			{TokenNumber: "legacy", Status: StatusServed},
		},
		NextTokenSequence: 2,
		TotalServed:       9,
	}
	s.Normalize()
	if s.NextTokenSequence != 8 {
		t.Errorf("expected next sequence 8, got %d", s.NextTokenSequence)
	}
	if s.TotalServed != 2 {
		t.Errorf("expected total served 2, got %d", s.TotalServed)
	}

	empty := &Snapshot{}
	empty.Normalize()
	if empty.NextTokenSequence != 1 || empty.Patients == nil {
		t.Errorf("expected empty snapshot normalized to seq 1, got %+v", empty)
	}
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	e := newTestEngine()
	s := NewSnapshot()
	p := e.Admit(s, Intake{Answers: triage.Answers{Symptoms: []string{"cough"}}},
		triage.Result{Urgency: triage.UrgencyLow}, baseTime)
	s.SetBroadcast("hello", SeverityInfo, baseTime)
	changed := baseTime
	s.Patients[0].StatusChangedAt = &changed

	c := s.Clone()
	c.Patients[0].Status = StatusServed
	c.Patients[0].Triage.Symptoms[0] = "fever"
	*c.Patients[0].StatusChangedAt = baseTime.Add(time.Hour)
	c.Broadcast.Message = "changed"

	orig, _ := s.FindByID(p.ID)
	if orig.Status != StatusWaiting {
		t.Error("status leaked through clone")
	}
	if orig.Triage.Symptoms[0] != "cough" {
		t.Error("symptoms leaked through clone")
	}
	if !orig.StatusChangedAt.Equal(baseTime) {
		t.Error("status_changed_at leaked through clone")
	}
	if s.Broadcast.Message != "hello" {
		t.Error("broadcast leaked through clone")
	}
}

func TestSnapshot_FindByToken(t *testing.T) {
	e := newTestEngine()
	s := NewSnapshot()
	p := admitLevel(e, s, triage.UrgencyMedium, baseTime)

	got, err := s.FindByToken(" t001 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("expected %s, got %s", p.ID, got.ID)
	}
	if _, err := s.FindByToken("T999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshot_Stats(t *testing.T) {
	e := newTestEngine()
	l := NewLifecycle(e)
	s := NewSnapshot()
	h := admitLevel(e, s, triage.UrgencyHigh, baseTime)
	admitLevel(e, s, triage.UrgencyMedium, baseTime.Add(time.Minute))
	admitLevel(e, s, triage.UrgencyLow, baseTime.Add(2*time.Minute))
	l.SetStatus(s, h.ID, StatusServed, baseTime)

	st := s.Stats()
	if st.Total != 3 || st.Waiting != 2 || st.Served != 1 || st.TotalServed != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.WaitingByUrgency[triage.UrgencyHigh] != 0 || st.WaitingByUrgency[triage.UrgencyMedium] != 1 {
		t.Errorf("unexpected urgency breakdown: %v", st.WaitingByUrgency)
	}
	if st.CurrentToken != "T002" {
		t.Errorf("expected current T002, got %s", st.CurrentToken)
	}
}
