package ingestion

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"smartlocker/internal/logger"
	pkgmqtt "smartlocker/pkg/mqtt"
)

// MQTTBridgeConfig describes the broker connection and the event topic
// filter, normally "columns/+/events".
type MQTTBridgeConfig struct {
	ClientConfig *pkgmqtt.Config
	EventTopic   string
	QoS          byte
}

// MQTTBridge subscribes to the column event topic and feeds the processor.
type MQTTBridge struct {
	cfg       *MQTTBridgeConfig
	client    *pkgmqtt.Client
	processor *Processor

	mu      sync.Mutex
	started bool
}

func NewMQTTBridge(cfg *MQTTBridgeConfig, processor *Processor) (*MQTTBridge, error) {
	if cfg == nil || cfg.ClientConfig == nil {
		return nil, errors.New("mqtt bridge config is not configured")
	}
	if cfg.EventTopic == "" {
		return nil, errors.New("event topic is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}

	return &MQTTBridge{
		cfg:       cfg,
		client:    pkgmqtt.NewClient(cfg.ClientConfig),
		processor: processor,
	}, nil
}

// Start connects to the broker and subscribes to the event topic.
func (b *MQTTBridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	if err := b.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	if err := b.client.Subscribe(b.cfg.EventTopic, b.cfg.QoS, b.handleEvent); err != nil {
		b.client.Disconnect()
		return fmt.Errorf("subscribe failed for topic %s: %w", b.cfg.EventTopic, err)
	}

	logger.Info("listening for column events", zap.String("topic", b.cfg.EventTopic))
	b.started = true
	return nil
}

// Stop unsubscribes and disconnects.
func (b *MQTTBridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return
	}
	if err := b.client.Unsubscribe(b.cfg.EventTopic); err != nil {
		logger.Warn("failed to unsubscribe from event topic", zap.Error(err))
	}
	b.client.Disconnect()
	b.started = false
}

func (b *MQTTBridge) handleEvent(topic string, payload []byte) {
	if err := b.processor.SubmitJSON(payload); err != nil {
		logger.Warn("discarding malformed event",
			zap.String("topic", topic),
			zap.Error(err))
	}
}
