package mocks

import (
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/gateways/cloud/network"
	"github.com/stretchr/testify/mock"
)

type SubscriberMock struct {
	mock.Mock
}

func (s *SubscriberMock) SubscribeToSensorUpdates(msgChan chan network.InMsg) error {
	args := s.Called(msgChan)
	return args.Error(0)
}
