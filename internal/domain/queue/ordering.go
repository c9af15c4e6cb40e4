package queue

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/smartslot/smartslot/internal/domain/triage"
)

// Engine owns the priority ordering of the waiting set. It mutates the
// snapshot it is given and holds no state of its own, so callers are
// responsible for serializing access.
type Engine struct {
	estimator *Estimator
	newID     func() uuid.UUID
}

// NewEngine creates an Engine using est for wait estimates.
func NewEngine(est *Estimator) *Engine {
	return &Engine{estimator: est, newID: uuid.New}
}

// Admit appends a new waiting patient to s, issues the next token and
// recomputes the queue. The returned copy includes position and wait.
func (e *Engine) Admit(s *Snapshot, in Intake, res triage.Result, now time.Time) Patient {
	if s.NextTokenSequence < 1 {
		s.NextTokenSequence = 1
	}
	p := Patient{
		ID:           e.newID(),
		TokenNumber:  FormatToken(s.NextTokenSequence),
		Name:         in.Name,
		Phone:        in.Phone,
		NationalID:   in.NationalID,
		Urgency:      res.Urgency,
		ClassifiedBy: res.Source,
		ArrivalTime:  now.UTC(),
		Status:       StatusWaiting,
		Triage:       in.Answers.Clone(),
	}
	s.NextTokenSequence++
	s.Patients = append(s.Patients, p)

	e.Recompute(s)
	return s.Patients[len(s.Patients)-1].clone()
}

// Less reports whether waiting patient a is served before b: urgency rank
// first, then arrival time. Equal keys are left to the caller's stable sort.
func Less(a, b *Patient) bool {
	if ra, rb := a.Urgency.Rank(), b.Urgency.Rank(); ra != rb {
		return ra < rb
	}
	return a.ArrivalTime.Before(b.ArrivalTime)
}

// Recompute reassigns position and estimated wait for every waiting patient.
// Non-waiting patients keep their last values. Calling it twice without an
// intervening mutation yields the same result.
func (e *Engine) Recompute(s *Snapshot) {
	idx := make([]int, 0, len(s.Patients))
	for i := range s.Patients {
		if s.Patients[i].Status == StatusWaiting {
			idx = append(idx, i)
		}
	}

	// idx is in insertion order, which the stable sort keeps as the final tiebreak.
	sort.SliceStable(idx, func(i, j int) bool {
		return Less(&s.Patients[idx[i]], &s.Patients[idx[j]])
	})

	total := 0
	for rank, i := range idx {
		p := &s.Patients[i]
		p.Position = rank + 1
		p.EstimatedWaitMinutes = e.estimator.Estimate(p.Position, p.Urgency)
		total += p.EstimatedWaitMinutes
	}

	s.AverageWaitMinutes = 0
	if len(idx) > 0 {
		s.AverageWaitMinutes = int(math.Round(float64(total) / float64(len(idx))))
	}
}
