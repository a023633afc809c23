package network

const (
	queueName            = "posture-gateway-sensors"
	BindingKeySensorName = "sensor.renamed"
)

type Subscriber interface {
	SubscribeToSensorUpdates(msgChan chan InMsg) error
}

type msgSubscriber struct {
	amqp Messaging
}

func NewMsgSubscriber(amqp Messaging) Subscriber {
	return &msgSubscriber{amqp}
}

func (ms *msgSubscriber) SubscribeToSensorUpdates(msgChan chan InMsg) error {
	return ms.amqp.OnMessage(msgChan, queueName, exchangeSensor, exchangeTypeDirect, BindingKeySensorName)
}
