package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/config"
	"github.com/spec-kit/ticket-bot/internal/events"
)

const publishTimeout = 5 * time.Second

// ConnectMQTT dials the broker with auto-reconnect enabled.
func ConnectMQTT(cfg config.MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is empty")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "ticket-bot"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}
	opts.OnConnect = func(_ mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.BrokerURL), zap.String("client_id", clientID))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}

type mqttSink struct {
	client mqtt.Client
	prefix string
}

// NewMQTTSink publishes each event as JSON to <prefix>/<event type>.
func NewMQTTSink(client mqtt.Client, prefix string) Sink {
	return &mqttSink{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

func (s *mqttSink) Name() string { return "mqtt" }

// Topic returns the topic an event type is published on.
func Topic(prefix string, eventType events.EventType) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return string(eventType)
	}
	return prefix + "/" + string(eventType)
}

func (s *mqttSink) Deliver(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	token := s.client.Publish(Topic(s.prefix, event.Type), 1, false, body)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out", event.Type)
	}
	return token.Error()
}

func (s *mqttSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
