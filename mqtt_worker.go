package main

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttWorker manages the MQTT connection and hands connected clients to the
// sender worker
func mqttWorker(
	ctx context.Context,
	broker string,
	username, password, clientID string,
	clientChan chan<- mqtt.Client,
) {
	// Connect to MQTT broker
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:1883", broker))
	opts.SetClientID(clientID)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	// Set up connection lost handler
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	// Set up connection handler
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", broker)

		// Send the new client to the sender worker
		select {
		case clientChan <- client:
		case <-ctx.Done():
		}
	})

	client := mqtt.NewClient(opts)

	// Connect to broker
	log.Printf("Connecting to MQTT broker at %s...\n", broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("Failed to connect to MQTT broker: %v\n", token.Error())
		return
	}

	// Keep worker alive until context is done
	<-ctx.Done()

	// Cleanup
	if client.IsConnected() {
		client.Disconnect(250)
		log.Println("Disconnected from MQTT broker")
	}
}

// mqttSenderWorker handles outgoing MQTT messages, queuing them until a
// connected client is available
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	var client mqtt.Client
	var messageQueue []MQTTMessage

	publish := func(msg MQTTMessage) {
		token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
		token.Wait()
		if token.Error() != nil {
			log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
		}
	}

	for {
		select {
		case newClient := <-clientChan:
			client = newClient

			// Process any queued messages now that we have a client
			if client != nil && client.IsConnected() {
				for _, msg := range messageQueue {
					publish(msg)
				}
				if n := len(messageQueue); n > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", n)
				}
				messageQueue = nil
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(msg)
			} else {
				// No client yet, queue the message
				messageQueue = append(messageQueue, msg)
			}

		case <-ctx.Done():
			return
		}
	}
}

// startTelemetry wires up the MQTT workers and returns a sender for the
// charge loop. Returns nil when no broker is configured.
func startTelemetry(ctx context.Context, cancel context.CancelFunc, cfg Config) *MQTTSender {
	if !cfg.MQTTEnabled() {
		return nil
	}

	outgoingChan := make(chan MQTTMessage, 100) // larger buffer for queuing
	clientChan := make(chan mqtt.Client, 1)     // buffered to prevent blocking onConnect

	SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
		mqttSenderWorker(ctx, outgoingChan, clientChan)
	})
	SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
		mqttWorker(ctx, cfg.MQTTBroker, cfg.MQTTUsername, cfg.MQTTPassword, "koradctl", clientChan)
	})

	return NewMQTTSender(outgoingChan)
}
