package queue

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttQuiesceMillis  = 250
)

// mqttPublisher is the subset of mqtt.Client used by MQTTSender.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSender publishes to an MQTT topic.
type MQTTSender struct {
	client mqttPublisher
	topic  string
}

// NewMQTTSender connects to broker before returning.
func NewMQTTSender(broker, topic string, opts Options) (*MQTTSender, error) {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "iot-emulator-" + uuid.NewString()[:8]
	}
	clientOpts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	c := mqtt.NewClient(clientOpts)
	token := c.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "mqtt connect to %s", broker)
	}
	return &MQTTSender{client: c, topic: topic}, nil
}

func (s *MQTTSender) Send(ctx context.Context, msg Message) error {
	token := s.client.Publish(s.topic, mqttQoS, false, []byte(msg.Body))
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "mqtt publish")
	}
	return nil
}

func (s *MQTTSender) Close() error {
	s.client.Disconnect(mqttQuiesceMillis)
	return nil
}
