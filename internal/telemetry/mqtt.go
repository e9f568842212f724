package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fleetlab/gps-fleet-simulator/internal/models"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// MQTTSubmitter publishes registrations and updates to an MQTT broker.
// Vehicle metadata goes to fleet/<id>/meta as a retained message; location
// updates go to fleet/<id>/location.
type MQTTSubmitter struct {
	client mqtt.Client
	qos    byte
}

// NewMQTTSubmitter connects to the broker and returns a submitter.
func NewMQTTSubmitter(brokerURL, clientID string) (*MQTTSubmitter, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", brokerURL, err)
	}
	return &MQTTSubmitter{client: client, qos: 0}, nil
}

// RegisterVehicle publishes retained vehicle metadata so late subscribers
// still see the fleet roster. Republishing the same vehicle just refreshes
// the retained message.
func (s *MQTTSubmitter) RegisterVehicle(ctx context.Context, cfg models.VehicleConfig) error {
	return s.publish(ctx, "fleet/"+cfg.VehicleID+"/meta", cfg, true)
}

// SubmitLocation publishes one update to the vehicle's location topic.
func (s *MQTTSubmitter) SubmitLocation(ctx context.Context, update models.LocationUpdate) error {
	return s.publish(ctx, "fleet/"+update.VehicleID+"/location", update, false)
}

// Close disconnects from the broker.
func (s *MQTTSubmitter) Close() {
	s.client.Disconnect(uint(mqttPublishTimeout.Milliseconds()))
}

func (s *MQTTSubmitter) publish(ctx context.Context, topic string, payload interface{}, retained bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	token := s.client.Publish(topic, s.qos, retained, data)
	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
