package network

import (
	"github.com/google/uuid"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
)

const (
	routingKeyRegistered  = "sensor.registered"
	routingKeySeen        = "sensor.seen"
	defaultExpirationTime = "2000"
)

type Publisher interface {
	PublishReadings(userToken, aggregatorID string, documents []entities.Document) error
	PublishSensorRegistered(userToken, aggregatorID string, sensor entities.SensorProfile) error
	PublishSensorSeen(userToken, aggregatorID, sensorID string, lastSeen int64) error
}

type msgPublisher struct {
	amqp          Messaging
	correlationID func() string
}

func NewMsgPublisher(amqp Messaging) Publisher {
	return &msgPublisher{amqp: amqp, correlationID: uuid.NewString}
}

// PublishReadings sends the documents as one persistent message. The batch id
// doubles as correlation id so the consumer can acknowledge a whole batch.
func (mp *msgPublisher) PublishReadings(userToken, aggregatorID string, documents []entities.Document) error {
	batchID := mp.correlationID()
	options := MessageOptions{
		Authorization: userToken,
		CorrelationID: batchID,
	}

	message := ReadingsSent{
		BatchID:      batchID,
		AggregatorID: aggregatorID,
		Documents:    documents,
	}

	return mp.amqp.PublishPersistentMessage(exchangeReadings, exchangeTypeFanout, "", message, &options)
}

func (mp *msgPublisher) PublishSensorRegistered(userToken, aggregatorID string, sensor entities.SensorProfile) error {
	options := MessageOptions{
		Authorization: userToken,
		Expiration:    defaultExpirationTime,
	}

	message := SensorRegistered{
		AggregatorID: aggregatorID,
		Sensor:       sensor,
	}

	return mp.amqp.PublishPersistentMessage(exchangeSensor, exchangeTypeDirect, routingKeyRegistered, message, &options)
}

func (mp *msgPublisher) PublishSensorSeen(userToken, aggregatorID, sensorID string, lastSeen int64) error {
	options := MessageOptions{
		Authorization: userToken,
		Expiration:    defaultExpirationTime,
	}

	message := SensorSeen{
		AggregatorID: aggregatorID,
		SensorID:     sensorID,
		LastSeen:     lastSeen,
	}

	return mp.amqp.PublishPersistentMessage(exchangeSensor, exchangeTypeDirect, routingKeySeen, message, &options)
}
