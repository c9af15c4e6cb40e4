// Package webhook delivers queue events to registered HTTP endpoints with
// HMAC-SHA256 signed payloads, retries and a delivery log.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound = errors.New("webhook: not found")
	ErrInvalid  = errors.New("webhook: invalid endpoint")
)

// Endpoint statuses.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Endpoint is a registered delivery target. Events holds subscription
// patterns: an exact type ("queue.updated"), a prefix ("broadcast.*") or "*".
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one payload to deliver.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Delivery records one POST to one endpoint.
type Delivery struct {
	ID           string        `json:"id"`
	EndpointID   string        `json:"endpoint_id"`
	EventID      string        `json:"event_id"`
	EventType    string        `json:"event_type"`
	Attempt      int           `json:"attempt"`
	StatusCode   int           `json:"status_code"`
	ResponseBody string        `json:"response_body,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	event        Event
}

// Store persists endpoints and the delivery log.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context) ([]*Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error)
}

// MemoryStore keeps endpoints and at most maxDeliveries log entries.
type MemoryStore struct {
	mu            sync.RWMutex
	endpoints     map[string]*Endpoint
	deliveries    []*Delivery
	maxDeliveries int
}

// NewMemoryStore creates an empty store retaining the last maxDeliveries
// delivery records (1000 when maxDeliveries <= 0).
func NewMemoryStore(maxDeliveries int) *MemoryStore {
	if maxDeliveries <= 0 {
		maxDeliveries = 1000
	}
	return &MemoryStore{endpoints: make(map[string]*Endpoint), maxDeliveries: maxDeliveries}
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("%w: endpoint %s", ErrNotFound, id)
	}
	cp := *ep
	return &cp, nil
}

// ListEndpoints returns endpoints oldest first.
func (s *MemoryStore) ListEndpoints(_ context.Context) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		cp := *ep
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return fmt.Errorf("%w: endpoint %s", ErrNotFound, ep.ID)
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return fmt.Errorf("%w: endpoint %s", ErrNotFound, id)
	}
	delete(s.endpoints, id)
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	if over := len(s.deliveries) - s.maxDeliveries; over > 0 {
		s.deliveries = append([]*Delivery(nil), s.deliveries[over:]...)
	}
	return nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deliveries {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: delivery %s", ErrNotFound, id)
}

// ListDeliveries returns the endpoint's deliveries newest first.
func (s *MemoryStore) ListDeliveries(_ context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*Delivery
	for i := len(s.deliveries) - 1; i >= 0; i-- {
		if s.deliveries[i].EndpointID == endpointID {
			matched = append(matched, s.deliveries[i])
		}
	}
	total := len(matched)
	if offset >= total {
		return []*Delivery{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// Config tunes delivery.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	QueueSize   int
}

// DefaultConfig returns a 10s timeout, three attempts one second apart and a
// 256-event queue.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second, MaxAttempts: 3, RetryDelay: time.Second, QueueSize: 256}
}

// Manager registers endpoints and delivers events to them from a background
// worker, so Enqueue never blocks the caller.
type Manager struct {
	store  Store
	client *http.Client
	cfg    Config
	queue  chan Event
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager creates a Manager. Call Run to start delivering.
func NewManager(store Store, cfg Config, logger zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Manager{
		store:  store,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: invalid url %q", ErrInvalid, raw)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("%w: url scheme must be http or https, got %q", ErrInvalid, u.Scheme)
	}
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Register validates and stores a new active endpoint. An empty secret is
// replaced with a random one; no events means "*".
func (m *Manager) Register(ctx context.Context, rawURL, secret string, events []string) (*Endpoint, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}
	if len(events) == 0 {
		events = []string{"*"}
	}
	ep := &Endpoint{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Status:    StatusActive,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// SetStatus pauses or resumes an endpoint.
func (m *Manager) SetStatus(ctx context.Context, id, status string) (*Endpoint, error) {
	if status != StatusActive && status != StatusPaused {
		return nil, fmt.Errorf("%w: status must be active or paused", ErrInvalid)
	}
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	ep.Status = status
	return ep, m.store.UpdateEndpoint(ctx, ep)
}

func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func (ep *Endpoint) subscribes(eventType string) bool {
	for _, p := range ep.Events {
		if eventMatches(p, eventType) {
			return true
		}
	}
	return false
}

// Enqueue schedules ev for delivery. It reports false when the queue is full
// and the event was dropped.
func (m *Manager) Enqueue(ev Event) bool {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	select {
	case m.queue <- ev:
		return true
	default:
		m.logger.Warn().Str("event", ev.Type).Msg("webhook queue full, event dropped")
		return false
	}
}

// Run delivers queued events until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.queue:
			m.Deliver(ctx, ev)
		}
	}
}

// Deliver sends ev to every active subscribed endpoint, retrying each up to
// MaxAttempts, and returns the final attempt per endpoint.
func (m *Manager) Deliver(ctx context.Context, ev Event) []*Delivery {
	endpoints, err := m.store.ListEndpoints(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("list webhook endpoints")
		return nil
	}
	var out []*Delivery
	for _, ep := range endpoints {
		if ep.Status != StatusActive || !ep.subscribes(ev.Type) {
			continue
		}
		var d *Delivery
		for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
			d = m.attempt(ctx, ep, ev, attempt)
			if d.Success || attempt == m.cfg.MaxAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return append(out, d)
			case <-time.After(m.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		if !d.Success {
			m.logger.Warn().Str("endpoint", ep.ID).Str("event", ev.Type).Str("error", d.Error).Msg("webhook delivery failed")
		}
		out = append(out, d)
	}
	return out
}

func (m *Manager) attempt(ctx context.Context, ep *Endpoint, ev Event, n int) *Delivery {
	now := m.now().UTC()
	d := &Delivery{
		ID:         uuid.NewString(),
		EndpointID: ep.ID,
		EventID:    ev.ID,
		EventType:  ev.Type,
		Attempt:    n,
		CreatedAt:  now,
		event:      ev,
	}
	defer m.store.RecordDelivery(ctx, d)

	body, err := json.Marshal(ev)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(body, ep.Secret))
	req.Header.Set("X-Webhook-ID", ep.ID)
	req.Header.Set("X-Webhook-Event", ev.Type)
	req.Header.Set("X-Webhook-Timestamp", now.Format(time.RFC3339))

	start := time.Now()
	resp, err := m.client.Do(req)
	d.Duration = time.Since(start)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	d.ResponseBody = string(snippet)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Success = true
	} else {
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return d
}

// Redeliver sends the event of a recorded delivery to its endpoint once more.
func (m *Manager) Redeliver(ctx context.Context, deliveryID string) (*Delivery, error) {
	prev, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	ep, err := m.store.GetEndpoint(ctx, prev.EndpointID)
	if err != nil {
		return nil, err
	}
	return m.attempt(ctx, ep, prev.event, prev.Attempt+1), nil
}

// Ping sends a synthetic webhook.test event to one endpoint.
func (m *Manager) Ping(ctx context.Context, endpointID string) (*Delivery, error) {
	ep, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	ev := Event{ID: uuid.NewString(), Type: "webhook.test", Payload: json.RawMessage(`{"test":true}`), Timestamp: m.now().UTC()}
	return m.attempt(ctx, ep, ev, 1), nil
}
