package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
)

// EventTypeIdentityCreated is published once per successful sign-up.
const EventTypeIdentityCreated = "identity.created"

// CreatedEvent is the payload the profile provisioner consumes.
type CreatedEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	IdentityID uuid.UUID `json:"identity_id"`
	Email      string    `json:"email"`
	Metadata   Metadata  `json:"metadata"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher hands identity lifecycle events to the provisioning pipeline.
type Publisher interface {
	PublishIdentityCreated(ctx context.Context, event CreatedEvent) error
}

// NoopPublisher drops events; used when Pub/Sub is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishIdentityCreated(context.Context, CreatedEvent) error { return nil }

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// PubSubPublisher publishes identity events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic topicPublisher
}

// NewPubSubPublisher wraps the provided topic publisher.
func NewPubSubPublisher(topic *pubsub.Publisher) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub publisher is required")
	}
	return &PubSubPublisher{topic: topic}, nil
}

// PublishIdentityCreated publishes the event and waits for the server ack.
func (p *PubSubPublisher) PublishIdentityCreated(ctx context.Context, event CreatedEvent) error {
	data, err := EncodeCreatedEvent(event)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type":  EventTypeIdentityCreated,
			"identity_id": event.IdentityID.String(),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", EventTypeIdentityCreated, err)
	}
	return nil
}

// EncodeCreatedEvent serializes the event for the wire.
func EncodeCreatedEvent(event CreatedEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode identity event: %w", err)
	}
	return data, nil
}

// DecodeCreatedEvent parses an identity.created payload.
func DecodeCreatedEvent(data []byte) (CreatedEvent, error) {
	var event CreatedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return CreatedEvent{}, fmt.Errorf("decode identity event: %w", err)
	}
	if event.IdentityID == uuid.Nil {
		return CreatedEvent{}, fmt.Errorf("decode identity event: identity_id is required")
	}
	return event, nil
}
