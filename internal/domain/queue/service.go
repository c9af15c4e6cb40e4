package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartslot/smartslot/internal/domain/triage"
)

// Event types fanned out after each committed transaction.
const (
	EventQueueUpdated     = "queue.updated"
	EventBroadcastSet     = "broadcast.set"
	EventBroadcastCleared = "broadcast.cleared"
)

// Event describes a committed change. Snapshot is the newly published state
// and must be treated as read-only.
type Event struct {
	Type      string     `json:"type"`
	Op        string     `json:"op"`
	Snapshot  *Snapshot  `json:"snapshot"`
	Patient   *Patient   `json:"patient,omitempty"`
	Broadcast *Broadcast `json:"broadcast,omitempty"`
	At        time.Time  `json:"at"`
}

// Publisher receives events for every committed transaction. Publish is
// called with the writer lock held and must not block for long.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ServiceConfig bounds storage calls.
type ServiceConfig struct {
	StoreTimeout time.Duration
	SaveAttempts int
	RetryBackoff time.Duration
}

// DefaultServiceConfig returns a 5s store timeout and three save attempts.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		StoreTimeout: 5 * time.Second,
		SaveAttempts: 3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Service owns the queue snapshot. Writers are serialized; each one works on
// a clone that is persisted before it becomes visible to readers, so a
// failed save leaves the published state untouched.
type Service struct {
	repo       SnapshotRepository
	classifier triage.Classifier
	engine     *Engine
	lifecycle  *Lifecycle
	cfg        ServiceConfig
	logger     zerolog.Logger
	now        func() time.Time

	mu         sync.Mutex
	current    atomic.Pointer[Snapshot]
	publishers []Publisher
}

// NewService creates a Service with an empty queue. Call Open to load the
// stored snapshot. A classifier that is not already a FallbackClassifier is
// wrapped with the rules policy so admission never fails on classification.
func NewService(repo SnapshotRepository, classifier triage.Classifier, est *Estimator, logger zerolog.Logger, cfg ServiceConfig) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultServiceConfig().StoreTimeout
	}
	if cfg.SaveAttempts < 1 {
		cfg.SaveAttempts = 1
	}
	if _, ok := classifier.(*triage.FallbackClassifier); !ok {
		classifier = triage.NewFallbackClassifier(classifier, triage.FallbackRules, logger)
	}
	engine := NewEngine(est)
	s := &Service{
		repo:       repo,
		classifier: classifier,
		engine:     engine,
		lifecycle:  NewLifecycle(engine),
		cfg:        cfg,
		logger:     logger.With().Str("component", "queue").Logger(),
		now:        time.Now,
	}
	s.current.Store(NewSnapshot())
	return s
}

// AddPublisher registers p for events. Not safe to call concurrently with
// writers; register publishers before serving.
func (s *Service) AddPublisher(p Publisher) {
	s.publishers = append(s.publishers, p)
}

// Open loads the stored snapshot, repairs its counters and recomputes the
// waiting set. An empty store yields an empty queue.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	snap, err := s.repo.Load(lctx)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	if snap == nil {
		snap = NewSnapshot()
	}
	snap.Normalize()
	s.engine.Recompute(snap)
	s.current.Store(snap)

	s.logger.Info().
		Int("patients", len(snap.Patients)).
		Int("waiting", len(snap.Waiting())).
		Str("next_token", FormatToken(snap.NextTokenSequence)).
		Msg("queue loaded")
	return nil
}

// Admit validates and classifies an intake, then appends the patient with
// the next token. Classification runs outside the writer lock.
func (s *Service) Admit(ctx context.Context, in Intake) (Patient, error) {
	if err := in.Answers.Validate(); err != nil {
		return Patient{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	res, err := s.classifier.Classify(ctx, &in.Answers)
	if err != nil {
		return Patient{}, err
	}

	var admitted Patient
	_, err = s.commit(ctx, "admit", func(next *Snapshot) (*Event, error) {
		admitted = s.engine.Admit(next, in, res, s.now())
		p := admitted
		return &Event{Type: EventQueueUpdated, Patient: &p}, nil
	})
	if err != nil {
		return Patient{}, err
	}
	return admitted, nil
}

// SetStatus applies a lifecycle transition to patient id.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to Status) (Patient, error) {
	var updated Patient
	_, err := s.commit(ctx, "set_status", func(next *Snapshot) (*Event, error) {
		p, err := s.lifecycle.SetStatus(next, id, to, s.now())
		if err != nil {
			return nil, err
		}
		updated = p
		return &Event{Type: EventQueueUpdated, Patient: &p}, nil
	})
	if err != nil {
		return Patient{}, err
	}
	return updated, nil
}

// CallNext moves the patient at position 1 to called.
func (s *Service) CallNext(ctx context.Context) (Patient, error) {
	var called Patient
	_, err := s.commit(ctx, "call_next", func(next *Snapshot) (*Event, error) {
		p, err := s.lifecycle.CallNext(next, s.now())
		if err != nil {
			return nil, err
		}
		called = p
		return &Event{Type: EventQueueUpdated, Patient: &p}, nil
	})
	if err != nil {
		return Patient{}, err
	}
	return called, nil
}

// Recompute reorders the waiting set and persists the result.
func (s *Service) Recompute(ctx context.Context) (*Snapshot, error) {
	snap, err := s.commit(ctx, "recompute", func(next *Snapshot) (*Event, error) {
		s.engine.Recompute(next)
		return &Event{Type: EventQueueUpdated}, nil
	})
	if err != nil {
		return nil, err
	}
	return snap.Clone(), nil
}

// SetBroadcast replaces the active advisory.
func (s *Service) SetBroadcast(ctx context.Context, message string, sev Severity) (Broadcast, error) {
	var set Broadcast
	_, err := s.commit(ctx, "broadcast_set", func(next *Snapshot) (*Event, error) {
		b, err := next.SetBroadcast(message, sev, s.now())
		if err != nil {
			return nil, err
		}
		set = b
		return &Event{Type: EventBroadcastSet, Broadcast: &b}, nil
	})
	if err != nil {
		return Broadcast{}, err
	}
	return set, nil
}

// ClearBroadcast removes the active advisory. It reports false, without
// touching storage, when none was active.
func (s *Service) ClearBroadcast(ctx context.Context) (bool, error) {
	cleared := false
	_, err := s.commit(ctx, "broadcast_clear", func(next *Snapshot) (*Event, error) {
		if !next.ClearBroadcast() {
			return nil, errNoChange
		}
		cleared = true
		return &Event{Type: EventBroadcastCleared}, nil
	})
	if err != nil {
		return false, err
	}
	return cleared, nil
}

var errNoChange = errors.New("no change")

// commit runs fn against a clone of the current snapshot, persists the clone
// and publishes it. When fn returns errNoChange nothing is saved and commit
// returns the current snapshot with a nil error.
func (s *Service) commit(ctx context.Context, op string, fn func(next *Snapshot) (*Event, error)) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	ev, err := fn(next)
	if errors.Is(err, errNoChange) {
		return s.current.Load(), nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next.UpdatedAt = now
	if err := s.save(ctx, op, next); err != nil {
		return nil, err
	}
	s.current.Store(next)

	evt := s.logger.Info().Str("op", op).Int("waiting", len(next.Waiting()))
	if ev.Patient != nil {
		evt = evt.Str("token", ev.Patient.TokenNumber).
			Str("urgency", string(ev.Patient.Urgency)).
			Str("status", string(ev.Patient.Status))
	}
	evt.Msg("queue committed")

	ev.Op = op
	ev.Snapshot = next
	ev.At = now
	s.publish(ctx, *ev)
	if ev.Type != EventQueueUpdated {
		s.publish(ctx, Event{Type: EventQueueUpdated, Op: op, Snapshot: next, At: now})
	}
	return next, nil
}

func (s *Service) save(ctx context.Context, op string, snap *Snapshot) error {
	backoff := s.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= s.cfg.SaveAttempts; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		err = s.repo.Save(sctx, snap)
		cancel()
		if err == nil {
			return nil
		}
		s.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("snapshot save failed")
		if attempt == s.cfg.SaveAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrStorage, op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	s.logger.Error().Err(err).Str("op", op).Msg("snapshot save abandoned, transaction discarded")
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

func (s *Service) publish(ctx context.Context, ev Event) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("event", ev.Type).Msg("event publish failed")
		}
	}
}

// Snapshot returns a deep copy of the published state.
func (s *Service) Snapshot() *Snapshot {
	return s.current.Load().Clone()
}

// Current returns the patient at position 1.
func (s *Service) Current() (Patient, error) {
	p, ok := s.current.Load().Current()
	if !ok {
		return Patient{}, fmt.Errorf("%w: no waiting patients", ErrNotFound)
	}
	return p, nil
}

// Waiting returns waiting patients in position order.
func (s *Service) Waiting() []Patient {
	return s.current.Load().Waiting()
}

// FindByID returns the patient with id.
func (s *Service) FindByID(id uuid.UUID) (Patient, error) {
	return s.current.Load().FindByID(id)
}

// FindByToken returns the patient holding token.
func (s *Service) FindByToken(token string) (Patient, error) {
	return s.current.Load().FindByToken(token)
}

// Patients returns a page of all patients in insertion order and the total.
func (s *Service) Patients(limit, offset int) ([]Patient, int) {
	snap := s.current.Load()
	total := len(snap.Patients)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Patient{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]Patient, 0, end-offset)
	for _, p := range snap.Patients[offset:end] {
		out = append(out, p.clone())
	}
	return out, total
}

// Stats summarizes the published state.
func (s *Service) Stats() Stats {
	return s.current.Load().Stats()
}
