package column

import (
	"context"
	"encoding/json"
	"fmt"

	"smartlocker/internal/protocol"
	pkgmqtt "smartlocker/pkg/mqtt"
)

// MQTTEventPublisher publishes edge events at QoS 0. At-most-once delivery
// is exactly the documented event contract, so no store-and-forward sits in
// front of it.
type MQTTEventPublisher struct {
	client *pkgmqtt.Client
	topic  string
}

// NewMQTTEventPublisher connects to the broker and returns the publisher.
func NewMQTTEventPublisher(cfg *pkgmqtt.Config, columnID string) (*MQTTEventPublisher, error) {
	client := pkgmqtt.NewClient(cfg)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return &MQTTEventPublisher{
		client: client,
		topic:  fmt.Sprintf("columns/%s/events", columnID),
	}, nil
}

// PublishEvent implements EventPublisher.
func (p *MQTTEventPublisher) PublishEvent(_ context.Context, msg protocol.EventMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(p.topic, 0, false, payload)
}

// Close disconnects from the broker.
func (p *MQTTEventPublisher) Close() {
	p.client.Disconnect()
}
