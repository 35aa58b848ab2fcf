package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/gatekeeper/ports"
)

const (
	TopicLogout         = "gatekeeper.logout"
	TopicRelaySubmitted = "gatekeeper.relay.submitted"
)

// LogoutEvent represents a logout event
type LogoutEvent struct {
	Address string `json:"address"`
	ChainID int64  `json:"chain_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, chainID int64) error {
	return p.publish(ctx, TopicLogout, LogoutEvent{
		Address: address,
		ChainID: chainID,
	})
}

// PublishRelaySubmitted publishes a relayed transaction event
func (p *WatermillPublisher) PublishRelaySubmitted(ctx context.Context, event ports.RelaySubmitted) error {
	return p.publish(ctx, TopicRelaySubmitted, event)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Discard drops every event. It is used when no broker is configured.
type Discard struct{}

func (Discard) PublishLogout(context.Context, string, int64) error { return nil }

func (Discard) PublishRelaySubmitted(context.Context, ports.RelaySubmitted) error { return nil }
