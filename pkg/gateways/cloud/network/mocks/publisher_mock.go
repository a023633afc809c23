package mocks

import (
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (p *PublisherMock) PublishReadings(userToken, aggregatorID string, documents []entities.Document) error {
	args := p.Called(userToken, aggregatorID, documents)
	return args.Error(0)
}

func (p *PublisherMock) PublishSensorRegistered(userToken, aggregatorID string, sensor entities.SensorProfile) error {
	args := p.Called(userToken, aggregatorID, sensor)
	return args.Error(0)
}

func (p *PublisherMock) PublishSensorSeen(userToken, aggregatorID, sensorID string, lastSeen int64) error {
	args := p.Called(userToken, aggregatorID, sensorID, lastSeen)
	return args.Error(0)
}
