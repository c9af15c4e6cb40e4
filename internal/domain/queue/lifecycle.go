package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// transitions lists the allowed status changes. Served and missed are terminal.
var transitions = map[Status][]Status{
	StatusWaiting: {StatusCalled, StatusServed, StatusMissed},
	StatusCalled:  {StatusServed, StatusMissed},
}

// CanTransition reports whether a patient may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Lifecycle validates and applies status transitions.
type Lifecycle struct {
	engine *Engine
}

// NewLifecycle creates a Lifecycle that recomputes through engine.
func NewLifecycle(engine *Engine) *Lifecycle {
	return &Lifecycle{engine: engine}
}

// SetStatus moves patient id to status to. On any error s is left untouched.
func (l *Lifecycle) SetStatus(s *Snapshot, id uuid.UUID, to Status, now time.Time) (Patient, error) {
	i := s.indexByID(id)
	if i < 0 {
		return Patient{}, fmt.Errorf("%w: patient %s", ErrNotFound, id)
	}
	from := s.Patients[i].Status
	if !CanTransition(from, to) {
		return Patient{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	changed := now.UTC()
	s.Patients[i].Status = to
	s.Patients[i].StatusChangedAt = &changed
	if to == StatusServed {
		s.TotalServed++
	}

	l.engine.Recompute(s)
	return s.Patients[i].clone(), nil
}

// CallNext moves the patient at position 1 to called.
func (l *Lifecycle) CallNext(s *Snapshot, now time.Time) (Patient, error) {
	cur, ok := s.Current()
	if !ok {
		return Patient{}, fmt.Errorf("%w: no waiting patients", ErrNotFound)
	}
	return l.SetStatus(s, cur.ID, StatusCalled, now)
}
