package network

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func createFakeMessageOptions(userToken, expirationTime string) MessageOptions {
	return MessageOptions{
		Authorization: userToken,
		Expiration:    expirationTime,
	}
}

func createFakeDocuments() []entities.Document {
	return []entities.Document{
		entities.NewDocument(entities.Record{OwnerUserID: "sensor001", Timestamp: 1, ReceivedMsg: "0xAB3311"}, "aggregator", 2),
		entities.NewDocument(entities.Record{OwnerUserID: "sensor002", Timestamp: 1, ReceivedMsg: "0xEF0112"}, "aggregator", 2),
	}
}

func TestPublishReadings(t *testing.T) {
	amqpMock := new(AmqpMock)
	documents := createFakeDocuments()
	options := MessageOptions{Authorization: "token", CorrelationID: "batch-1"}
	message := ReadingsSent{BatchID: "batch-1", AggregatorID: "aggregator", Documents: documents}

	amqpMock.On("PublishPersistentMessage", exchangeReadings, exchangeTypeFanout, "", message, &options).Return(nil)

	publisher := &msgPublisher{amqp: amqpMock, correlationID: func() string { return "batch-1" }}
	err := publisher.PublishReadings("token", "aggregator", documents)
	assert.Nil(t, err)
	amqpMock.AssertExpectations(t)
}

func TestPublishReadingsUsesFreshCorrelationIDs(t *testing.T) {
	amqpMock := new(AmqpMock)
	var batchIDs []string
	amqpMock.On("PublishPersistentMessage", exchangeReadings, exchangeTypeFanout, "", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			message := args.Get(3).(ReadingsSent)
			options := args.Get(4).(*MessageOptions)
			assert.Equal(t, message.BatchID, options.CorrelationID)
			batchIDs = append(batchIDs, message.BatchID)
		}).Return(nil)

	publisher := NewMsgPublisher(amqpMock)
	assert.NoError(t, publisher.PublishReadings("token", "aggregator", createFakeDocuments()))
	assert.NoError(t, publisher.PublishReadings("token", "aggregator", createFakeDocuments()))

	assert.Len(t, batchIDs, 2)
	assert.NotEqual(t, batchIDs[0], batchIDs[1])
	_, err := uuid.Parse(batchIDs[0])
	assert.NoError(t, err)
}

func TestPublishReadingsWhenBrokerFailsReturnError(t *testing.T) {
	amqpMock := new(AmqpMock)
	amqpMock.On("PublishPersistentMessage", exchangeReadings, exchangeTypeFanout, "", mock.Anything, mock.Anything).Return(ErrNotConnected)

	publisher := NewMsgPublisher(amqpMock)
	err := publisher.PublishReadings("token", "aggregator", createFakeDocuments())
	assert.ErrorIs(t, err, ErrNotConnected)
	amqpMock.AssertExpectations(t)
}

func TestPublishSensorRegistered(t *testing.T) {
	amqpMock := new(AmqpMock)
	options := createFakeMessageOptions("token", defaultExpirationTime)
	sensor := entities.NewSensorProfile("sensor001", 1000)
	message := SensorRegistered{AggregatorID: "aggregator", Sensor: sensor}

	amqpMock.On("PublishPersistentMessage", exchangeSensor, exchangeTypeDirect, routingKeyRegistered, message, &options).Return(nil)

	publisher := NewMsgPublisher(amqpMock)
	err := publisher.PublishSensorRegistered("token", "aggregator", sensor)
	assert.Nil(t, err)
	amqpMock.AssertExpectations(t)
}

func TestPublishSensorRegisteredWhenEmptyTokenReturnError(t *testing.T) {
	amqpMock := new(AmqpMock)
	options := createFakeMessageOptions("", defaultExpirationTime)
	sensor := entities.NewSensorProfile("sensor001", 1000)
	message := SensorRegistered{AggregatorID: "aggregator", Sensor: sensor}

	amqpMock.On("PublishPersistentMessage", exchangeSensor, exchangeTypeDirect, routingKeyRegistered, message, &options).Return(errors.New("failed"))

	publisher := NewMsgPublisher(amqpMock)
	err := publisher.PublishSensorRegistered("", "aggregator", sensor)
	assert.NotNil(t, err)
	amqpMock.AssertExpectations(t)
}

func TestPublishSensorSeen(t *testing.T) {
	amqpMock := new(AmqpMock)
	options := createFakeMessageOptions("token", defaultExpirationTime)
	message := SensorSeen{AggregatorID: "aggregator", SensorID: "sensor001", LastSeen: 5000}

	amqpMock.On("PublishPersistentMessage", exchangeSensor, exchangeTypeDirect, routingKeySeen, message, &options).Return(nil)

	publisher := NewMsgPublisher(amqpMock)
	err := publisher.PublishSensorSeen("token", "aggregator", "sensor001", 5000)
	assert.Nil(t, err)
	amqpMock.AssertExpectations(t)
}
