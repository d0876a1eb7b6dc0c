package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"koradctl/korad"
)

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// supplyDeviceID derives a stable topic id for a supply from its identity.
func supplyDeviceID(id korad.Identity) string {
	return strings.ToLower(id.Model) + "_" + id.Serial
}

// stateTopic is where per-sample telemetry for a supply is published.
func stateTopic(deviceID string) string {
	return "homeassistant/sensor/" + deviceID + "/state"
}

// PublishSample publishes one charge sample to the supply's state topic.
func (s *MQTTSender) PublishSample(deviceID string, r korad.Reading, phase string) error {
	payload, err := json.Marshal(map[string]any{
		"voltage": r.Voltage,
		"current": r.Current,
		"power":   r.Power(),
		"output":  r.OutputEnabled,
		"phase":   phase,
		"time":    r.CapturedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   stateTopic(deviceID),
		Payload: payload,
		QoS:     0,
		Retain:  false,
	})
	return nil
}

// CreateSupplyEntity creates a Home Assistant sensor entity for the supply
// via MQTT discovery
func (s *MQTTSender) CreateSupplyEntity(
	id korad.Identity,
	entityName, entityClass, entityMeasure, jsonKey string,
	displayPrecision int,
) error {
	type haDeviceConfig struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
		Model        string   `json:"model,omitempty"`
	}

	type haEntityConfig struct {
		Name             string         `json:"name,omitempty"`
		DeviceClass      string         `json:"device_class"`
		StateTopic       string         `json:"state_topic"`
		UnitOfMeasure    string         `json:"unit_of_measurement,omitempty"`
		ValueTemplate    string         `json:"value_template"`
		UniqueId         string         `json:"unique_id"`
		ExpireAfter      uint           `json:"expire_after,omitempty"`
		StateClass       string         `json:"state_class,omitempty"`
		DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
		Device           haDeviceConfig `json:"device"`
	}

	deviceID := supplyDeviceID(id)

	config := haEntityConfig{
		Name:             entityName,
		DeviceClass:      entityClass,
		StateTopic:       stateTopic(deviceID),
		UnitOfMeasure:    entityMeasure,
		ValueTemplate:    "{{ value_json." + jsonKey + "}}",
		UniqueId:         deviceID + "_" + jsonKey,
		ExpireAfter:      60 * 30, // 30 minutes
		StateClass:       "measurement",
		DisplayPrecision: displayPrecision,
		Device: haDeviceConfig{
			Identifiers:  []string{deviceID},
			Name:         "Korad " + id.Model,
			Manufacturer: "Korad",
			Model:        fmt.Sprintf("%s (FW %s)", id.Model, id.Firmware),
		},
	}

	configTopic := "homeassistant/sensor/" + deviceID + "_" + jsonKey + "/config"

	payload, err := json.Marshal(config)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   configTopic,
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})

	return nil
}

// CreateChargerEntities announces the voltage/current/power sensors for a
// supply running a charge.
func (s *MQTTSender) CreateChargerEntities(id korad.Identity) error {
	entities := []struct {
		name, class, unit, key string
		precision              int
	}{
		{"Voltage", "voltage", "V", "voltage", 2},
		{"Current", "current", "A", "current", 3},
		{"Power", "power", "W", "power", 2},
	}
	for _, e := range entities {
		if err := s.CreateSupplyEntity(id, e.name, e.class, e.unit, e.key, e.precision); err != nil {
			return err
		}
	}
	return nil
}
