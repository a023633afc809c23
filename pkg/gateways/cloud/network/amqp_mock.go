package network

import (
	"github.com/stretchr/testify/mock"
)

type AmqpMock struct {
	mock.Mock
}

func (m *AmqpMock) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *AmqpMock) Stop() {
	m.Called()
}

func (m *AmqpMock) OnMessage(msgChan chan InMsg, queueName, exchangeName, exchangeType, key string) error {
	args := m.Called(msgChan, queueName, exchangeName, exchangeType, key)
	return args.Error(0)
}

func (m *AmqpMock) PublishPersistentMessage(exchange, exchangeType, key string, data interface{}, options *MessageOptions) error {
	args := m.Called(exchange, exchangeType, key, data, options)
	return args.Error(0)
}
