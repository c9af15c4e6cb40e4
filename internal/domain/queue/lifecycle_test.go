package queue

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smartslot/smartslot/internal/domain/triage"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusWaiting, StatusCalled, StatusServed, StatusMissed}
	allowed := map[[2]Status]bool{
		{StatusWaiting, StatusCalled}: true,
		{StatusWaiting, StatusServed}: true,
		{StatusWaiting, StatusMissed}: true,
		{StatusCalled, StatusServed}:  true,
		{StatusCalled, StatusMissed}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestLifecycle_ServedFreezesAndCounts(t *testing.T) {
	e := newTestEngine()
	l := NewLifecycle(e)
	s := NewSnapshot()
	a := admitLevel(e, s, triage.UrgencyHigh, baseTime)
	b := admitLevel(e, s, triage.UrgencyLow, baseTime.Add(time.Minute))

	served, err := l.SetStatus(s, a.ID, StatusServed, baseTime.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served.Status != StatusServed {
		t.Errorf("expected served, got %s", served.Status)
	}
	if served.Position != 1 || served.EstimatedWaitMinutes != 8 {
		t.Errorf("expected frozen {1, 8}, got {%d, %d}", served.Position, served.EstimatedWaitMinutes)
	}
	if served.StatusChangedAt == nil || !served.StatusChangedAt.Equal(baseTime.Add(10*time.Minute)) {
		t.Errorf("expected status_changed_at to be set, got %v", served.StatusChangedAt)
	}
	if s.TotalServed != 1 {
		t.Errorf("expected total served 1, got %d", s.TotalServed)
	}

	nb, _ := s.FindByID(b.ID)
	if nb.Position != 1 || nb.EstimatedWaitMinutes != 15 {
		t.Errorf("expected B at {1, 15}, got {%d, %d}", nb.Position, nb.EstimatedWaitMinutes)
	}
}

func TestLifecycle_RejectedLeavesSnapshotUnchanged(t *testing.T) {
	e := newTestEngine()
	l := NewLifecycle(e)
	s := NewSnapshot()
	a := admitLevel(e, s, triage.UrgencyHigh, baseTime)
	admitLevel(e, s, triage.UrgencyLow, baseTime.Add(time.Minute))
	if _, err := l.SetStatus(s, a.ID, StatusServed, baseTime.Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := s.Clone()
	tests := []struct {
		name string
		id   uuid.UUID
		to   Status
		want error
	}{
		{"served back to waiting", a.ID, StatusWaiting, ErrIllegalTransition},
		{"served to called", a.ID, StatusCalled, ErrIllegalTransition},
		{"served to served", a.ID, StatusServed, ErrIllegalTransition},
		{"unknown id", uuid.New(), StatusCalled, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.SetStatus(s, tt.id, tt.to, baseTime.Add(2*time.Hour))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !reflect.DeepEqual(before, s) {
				t.Error("snapshot changed after rejected transition")
			}
		})
	}
}

func TestLifecycle_SelfTransitionRejected(t *testing.T) {
	e := newTestEngine()
	l := NewLifecycle(e)
	s := NewSnapshot()
	a := admitLevel(e, s, triage.UrgencyMedium, baseTime)
	if _, err := l.SetStatus(s, a.ID, StatusWaiting, baseTime); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestLifecycle_TotalServedMatchesServedCount(t *testing.T) {
	e := newTestEngine()
	l := NewLifecycle(e)
	s := NewSnapshot()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, admitLevel(e, s, triage.UrgencyLow, baseTime.Add(time.Duration(i)*time.Minute)).ID)
	}
	l.SetStatus(s, ids[0], StatusServed, baseTime)
	l.SetStatus(s, ids[1], StatusCalled, baseTime)
	l.SetStatus(s, ids[1], StatusServed, baseTime)
	l.SetStatus(s, ids[2], StatusMissed, baseTime)
	l.SetStatus(s, ids[2], StatusServed, baseTime) // rejected

	served := 0
	for _, p := range s.Patients {
		if p.Status == StatusServed {
			served++
		}
	}
	if s.TotalServed != served || served != 2 {
		t.Errorf("expected total served %d == 2, got %d", served, s.TotalServed)
	}
}

func TestLifecycle_CallNext(t *testing.T) {
	e := newTestEngine()
	l := NewLifecycle(e)
	s := NewSnapshot()

	if _, err := l.CallNext(s, baseTime); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty queue, got %v", err)
	}

	admitLevel(e, s, triage.UrgencyLow, baseTime)
	high := admitLevel(e, s, triage.UrgencyHigh, baseTime.Add(time.Minute))

	called, err := l.CallNext(s, baseTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called.ID != high.ID || called.Status != StatusCalled {
		t.Errorf("expected %s called, got %s %s", high.TokenNumber, called.TokenNumber, called.Status)
	}
	cur, ok := s.Current()
	if !ok || cur.Urgency != triage.UrgencyLow || cur.Position != 1 {
		t.Errorf("expected low patient at position 1, got %+v", cur)
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus(" Served "); err != nil || st != StatusServed {
		t.Errorf("expected served, got %q %v", st, err)
	}
	if _, err := ParseStatus("discharged"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
