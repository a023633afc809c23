// Package network carries posture documents and sensor registry events to the
// cloud over AMQP.
package network

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	exchangeTypeDirect = "direct"
	exchangeTypeFanout = "fanout"

	exchangeSensor   = "sensor"
	exchangeReadings = "posture.readings"
	durable          = true
	deleteWhenUnused = false
	exclusive        = false
	noWait           = false
	internal         = false
	noAck            = true
	noLocal          = false
	consumerTag      = ""
)

var ErrNotConnected = errors.New("amqp connection is not open")

// Messaging is the broker surface used by publishers and subscribers.
type Messaging interface {
	Start() error
	Stop()
	OnMessage(msgChan chan InMsg, queueName, exchangeName, exchangeType, key string) error
	PublishPersistentMessage(exchange, exchangeType, key string, data interface{}, options *MessageOptions) error
}

type AMQP struct {
	conn       connection
	log        *logrus.Entry
	newBackOff func() backoff.BackOff

	mu                sync.Mutex
	declaredExchanges map[string]struct{}
}

func NewAMQP(url string, log *logrus.Entry) *AMQP {
	return newAMQP(NewAmqpConnection(url), log)
}

func newAMQP(conn connection, log *logrus.Entry) *AMQP {
	return &AMQP{
		conn:              conn,
		log:               log,
		newBackOff:        func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		declaredExchanges: make(map[string]struct{}),
	}
}

// Start dials the broker, retrying with exponential backoff, and keeps the
// connection alive in the background afterwards.
func (a *AMQP) Start() error {
	err := backoff.Retry(a.connect, a.newBackOff())
	if err != nil {
		return errors.Wrap(err, "amqp start")
	}
	go a.notifyWhenClosed()
	return nil
}

func (a *AMQP) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.conn.closeChannel(); err != nil {
		a.log.WithError(err).Debug("Error closing AMQP channel")
	}
	if err := a.conn.close(); err != nil {
		a.log.WithError(err).Debug("Error closing AMQP connection")
	}
}

func (a *AMQP) OnMessage(msgChan chan InMsg, queueName, exchangeName, exchangeType, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.conn.isOpen() {
		return ErrNotConnected
	}
	if err := a.declareExchange(exchangeName, exchangeType); err != nil {
		return err
	}
	if err := a.conn.queueDeclare(queueName); err != nil {
		return errors.Wrapf(err, "declare queue %s", queueName)
	}
	if err := a.conn.queueBind(queueName, key, exchangeName, noWait, nil); err != nil {
		return errors.Wrapf(err, "bind queue %s to %s", queueName, key)
	}

	deliveries, err := a.conn.consume(queueName, consumerTag, noAck, exclusive, noLocal, noWait, nil)
	if err != nil {
		return errors.Wrapf(err, "consume %s", queueName)
	}

	go convertDeliveryToInMsg(deliveries, msgChan)
	return nil
}

func (a *AMQP) PublishPersistentMessage(exchange, exchangeType, key string, data interface{}, options *MessageOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.conn.isOpen() {
		return ErrNotConnected
	}
	if err := a.declareExchange(exchange, exchangeType); err != nil {
		return err
	}
	if err := a.conn.publish(exchange, key, false, false, data, options); err != nil {
		return errors.Wrap(err, "error publishing message in channel")
	}
	return nil
}

// declareExchange avoids redeclaring an exchange already declared on this
// connection. Callers hold a.mu.
func (a *AMQP) declareExchange(name, exchangeType string) error {
	if _, ok := a.declaredExchanges[name]; ok {
		return nil
	}
	if err := a.conn.exchangeDeclare(name, exchangeType); err != nil {
		return errors.Wrapf(err, "error declaring exchange %s", name)
	}
	a.declaredExchanges[name] = struct{}{}
	return nil
}

func (a *AMQP) connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.conn.connect(); err != nil {
		a.log.WithError(err).Warn("Cannot connect to the AMQP broker")
		return err
	}
	if err := a.conn.createChannel(); err != nil {
		a.log.WithError(err).Warn("Cannot open an AMQP channel")
		return err
	}
	a.declaredExchanges = make(map[string]struct{})
	return nil
}

func (a *AMQP) notifyWhenClosed() {
	a.mu.Lock()
	closed := a.conn.notifyClose(make(chan *amqp.Error, 1))
	a.mu.Unlock()

	errReason := <-closed
	if errReason == nil {
		return
	}
	a.log.WithError(errReason).Warn("AMQP connection lost, reconnecting")

	reconnectionBackOff := backoff.NewExponentialBackOff()
	reconnectionBackOff.InitialInterval = 30 * time.Second
	reconnectionBackOff.MaxInterval = 5 * time.Minute
	reconnectionBackOff.Multiplier = 1.7
	reconnectionBackOff.MaxElapsedTime = 0

	if err := backoff.Retry(a.connect, reconnectionBackOff); err != nil {
		return
	}
	a.log.Info("Reconnection to the AMQP broker was successful")
	go a.notifyWhenClosed()
}

func convertDeliveryToInMsg(deliveries <-chan amqp.Delivery, outMsg chan InMsg) {
	for d := range deliveries {
		outMsg <- InMsg{d.Exchange, d.RoutingKey, d.ReplyTo, d.CorrelationId, d.Headers, d.Body}
	}
}
