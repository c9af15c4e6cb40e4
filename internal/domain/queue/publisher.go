package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smartslot/smartslot/internal/platform/webhook"
	"github.com/smartslot/smartslot/internal/platform/websocket"
)

// Websocket topics.
const (
	TopicQueue     = "queue"
	TopicBroadcast = "broadcast"
)

type eventBroadcaster interface {
	Publish(ctx context.Context, ev websocket.Event) error
}

// HubPublisher forwards queue events to websocket subscribers. Queue
// updates go to TopicQueue with the snapshot as payload; broadcast changes
// go to TopicBroadcast with the broadcast (null when cleared).
type HubPublisher struct {
	hub eventBroadcaster
}

// NewHubPublisher wraps hub.
func NewHubPublisher(hub eventBroadcaster) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, ev Event) error {
	var (
		topic   string
		payload interface{}
	)
	switch ev.Type {
	case EventQueueUpdated:
		topic, payload = TopicQueue, ev.Snapshot
	case EventBroadcastSet, EventBroadcastCleared:
		topic, payload = TopicBroadcast, ev.Broadcast
	default:
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	return p.hub.Publish(ctx, websocket.Event{Type: ev.Type, Topic: topic, Timestamp: ev.At, Data: data})
}

// InitialEvents returns a websocket.InitialFunc that seeds new subscribers
// with the current queue snapshot or active broadcast.
func InitialEvents(svc *Service) websocket.InitialFunc {
	return func(topic string) (websocket.Event, bool) {
		snap := svc.Snapshot()
		var payload interface{}
		var typ string
		switch topic {
		case TopicQueue:
			typ, payload = "queue.snapshot", snap
		case TopicBroadcast:
			if snap.Broadcast == nil {
				return websocket.Event{}, false
			}
			typ, payload = "broadcast.current", snap.Broadcast
		default:
			return websocket.Event{}, false
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return websocket.Event{}, false
		}
		return websocket.Event{Type: typ, Topic: topic, Timestamp: snap.UpdatedAt, Data: data}, true
	}
}

type subjectPublisher interface {
	Publish(ctx context.Context, subject string, v interface{}) error
}

// NATSPublisher publishes each event as JSON on "<prefix>.<event type>",
// e.g. smartslot.queue.updated.
type NATSPublisher struct {
	client subjectPublisher
	prefix string
}

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "smartslot"

// NewNATSPublisher wraps client.
func NewNATSPublisher(client subjectPublisher, prefix string) *NATSPublisher {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{client: client, prefix: prefix}
}

// Subject returns the subject ev is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	return p.client.Publish(ctx, p.Subject(ev.Type), ev)
}

type webhookQueue interface {
	Enqueue(ev webhook.Event) bool
}

// WebhookPublisher hands events to the webhook worker. Delivery happens off
// the writer path.
type WebhookPublisher struct {
	queue webhookQueue
}

// NewWebhookPublisher wraps q.
func NewWebhookPublisher(q webhookQueue) *WebhookPublisher {
	return &WebhookPublisher{queue: q}
}

var errWebhookQueueFull = errors.New("webhook queue full")

func (p *WebhookPublisher) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	if !p.queue.Enqueue(webhook.Event{Type: ev.Type, Payload: payload, Timestamp: ev.At}) {
		return errWebhookQueueFull
	}
	return nil
}

type counterSink interface {
	Inc(name string, values ...string)
}

// Metric names recorded by MetricsPublisher.
const (
	MetricOperations = "queue_operations_total"
	MetricAdmissions = "queue_admissions_total"
)

// MetricsPublisher counts committed operations and admissions by urgency.
// Every commit emits exactly one queue.updated event, which is what gets
// counted.
type MetricsPublisher struct {
	sink counterSink
}

// NewMetricsPublisher wraps sink.
func NewMetricsPublisher(sink counterSink) *MetricsPublisher {
	return &MetricsPublisher{sink: sink}
}

func (p *MetricsPublisher) Publish(_ context.Context, ev Event) error {
	if ev.Type != EventQueueUpdated {
		return nil
	}
	p.sink.Inc(MetricOperations, ev.Op)
	if ev.Op == "admit" && ev.Patient != nil {
		p.sink.Inc(MetricAdmissions, string(ev.Patient.Urgency), string(ev.Patient.ClassifiedBy))
	}
	return nil
}
