package alert

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	atLeastOnce     = 1
	connectTimeout  = 10 * time.Second
	disconnectQuiet = 250
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type fallPayload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// MQTTSink publishes alerts as JSON with QoS 1.
type MQTTSink struct {
	client mqttClient
	topic  string
	log    *logrus.Entry
	now    func() int64
}

func NewMQTTSink(config entities.AlertConfig, log *logrus.Entry) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("Alert broker connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warnf("Alert broker %s not reachable yet, retrying in background", config.Broker)
	} else if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connect to alert broker %s", config.Broker)
	}
	return newMQTTSink(client, config.Topic, log), nil
}

func newMQTTSink(client mqttClient, topic string, log *logrus.Entry) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, log: log, now: entities.NowMillis}
}

func (s *MQTTSink) NotifyFall(ctx context.Context, title, body string) error {
	data, err := json.Marshal(fallPayload{Title: title, Body: body, Timestamp: s.now()})
	if err != nil {
		return errors.Wrap(err, "encode alert")
	}

	token := s.client.Publish(s.topic, atLeastOnce, false, data)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errors.Wrapf(err, "publish alert to %s", s.topic)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "publish alert")
	}
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(disconnectQuiet)
}
