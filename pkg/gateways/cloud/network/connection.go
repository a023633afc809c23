package network

import (
	"encoding/json"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type connection interface {
	connect() error
	createChannel() error
	queueDeclare(name string) error
	exchangeDeclare(name, exchangeType string) error
	queueBind(queueName, key, exchangeName string, noWait bool, table amqp.Table) error
	consume(queue string, consumer string, autoAck bool, exclusive bool, noLocal bool, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	publish(exchange string, key string, mandatory bool, immediate bool, data interface{}, options *MessageOptions) error
	isOpen() bool
	close() error
	closeChannel() error
	notifyClose(channel chan *amqp.Error) chan *amqp.Error
}

type AmqpConnection struct {
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAmqpConnection(url string) *AmqpConnection {
	return &AmqpConnection{url: url}
}

func (a *AmqpConnection) connect() error {
	conn, err := amqp.Dial(a.url)
	if err == nil {
		a.conn = conn
	}
	return err
}

func (a *AmqpConnection) createChannel() error {
	if a.conn == nil {
		return ErrNotConnected
	}
	channel, err := a.conn.Channel()
	if err == nil {
		a.channel = channel
	}
	return err
}

func (a *AmqpConnection) queueDeclare(name string) error {
	_, err := a.channel.QueueDeclare(
		name,
		durable,
		deleteWhenUnused,
		exclusive,
		noWait,
		nil, // arguments
	)
	return err
}

func (a *AmqpConnection) exchangeDeclare(name, exchangeType string) error {
	return a.channel.ExchangeDeclare(
		name,
		exchangeType,
		durable,
		deleteWhenUnused,
		internal,
		noWait,
		nil, // arguments
	)
}

func (a *AmqpConnection) queueBind(queueName, key, exchangeName string, noWait bool, table amqp.Table) error {
	return a.channel.QueueBind(queueName, key, exchangeName, noWait, table)
}

func (a *AmqpConnection) consume(queue string, consumer string, autoAck bool, exclusive bool, noLocal bool, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return a.channel.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
}

func (a *AmqpConnection) publish(exchange string, key string, mandatory bool, immediate bool, data interface{}, options *MessageOptions) error {
	var headers amqp.Table
	var corrID, expTime, replyTo string

	if options != nil {
		headers = amqp.Table{
			"Authorization": options.Authorization,
		}
		corrID = options.CorrelationID
		replyTo = options.ReplyTo
		expTime = options.Expiration
	}

	body, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "error encoding JSON message")
	}

	return a.channel.Publish(
		exchange,
		key,
		mandatory,
		immediate,
		amqp.Publishing{
			Headers:       headers,
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: corrID,
			ReplyTo:       replyTo,
			Body:          body,
			Expiration:    expTime,
		},
	)
}

func (a *AmqpConnection) isOpen() bool {
	return a.conn != nil && !a.conn.IsClosed() && a.channel != nil
}

func (a *AmqpConnection) close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

func (a *AmqpConnection) closeChannel() error {
	if a.channel == nil {
		return nil
	}
	return a.channel.Close()
}

func (a *AmqpConnection) notifyClose(channel chan *amqp.Error) chan *amqp.Error {
	return a.conn.NotifyClose(channel)
}
