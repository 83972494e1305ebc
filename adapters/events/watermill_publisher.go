package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/keyward/keyward/ports"
)

const (
	TopicRegistered   = "keyward.auth.registered"
	TopicLogin        = "keyward.auth.login"
	TopicDeviceSigned = "keyward.device.signed"
)

// CeremonyEvent is the payload published for every completed ceremony.
type CeremonyEvent struct {
	AccountID    string    `json:"account_id"`
	CredentialID string    `json:"credential_id"`
	DeviceID     string    `json:"device_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill-backed publisher.
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// PublishRegistered announces a successful registration ceremony.
func (p *WatermillPublisher) PublishRegistered(ctx context.Context, accountID, credentialID string) error {
	return p.publish(TopicRegistered, CeremonyEvent{
		AccountID:    accountID,
		CredentialID: credentialID,
		OccurredAt:   time.Now().UTC(),
	})
}

// PublishLogin announces a successful authentication ceremony.
func (p *WatermillPublisher) PublishLogin(ctx context.Context, accountID, credentialID string) error {
	return p.publish(TopicLogin, CeremonyEvent{
		AccountID:    accountID,
		CredentialID: credentialID,
		OccurredAt:   time.Now().UTC(),
	})
}

// PublishDeviceSigned announces a completed device authorization.
func (p *WatermillPublisher) PublishDeviceSigned(ctx context.Context, accountID, deviceID, credentialID string) error {
	return p.publish(TopicDeviceSigned, CeremonyEvent{
		AccountID:    accountID,
		CredentialID: credentialID,
		DeviceID:     deviceID,
		OccurredAt:   time.Now().UTC(),
	})
}

func (p *WatermillPublisher) publish(topic string, event CeremonyEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
