package network

import "github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"

type InMsg struct {
	Exchange      string
	RoutingKey    string
	ReplyTo       string
	CorrelationID string
	Headers       map[string]interface{}
	Body          []byte
}

// MessageOptions represents the message publishing options
type MessageOptions struct {
	Authorization string
	CorrelationID string
	ReplyTo       string
	Expiration    string
}

// ReadingsSent is one batch of documents uploaded by an aggregator.
type ReadingsSent struct {
	BatchID      string              `json:"batchId"`
	AggregatorID string              `json:"aggregatorId"`
	Documents    []entities.Document `json:"documents"`
}

type SensorRegistered struct {
	AggregatorID string                 `json:"aggregatorId"`
	Sensor       entities.SensorProfile `json:"sensor"`
}

type SensorSeen struct {
	AggregatorID string `json:"aggregatorId"`
	SensorID     string `json:"sensorId"`
	LastSeen     int64  `json:"lastSeen"`
}

// SensorRenamed is received when a sensor gets a display name elsewhere.
type SensorRenamed struct {
	SensorID string `json:"sensorId"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
}
