package protocol

import (
	"strings"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
)

// ParsedMessage is the result of the lenient single-line parser. A message
// without a sensor id is the legacy one-reading-per-line format.
type ParsedMessage struct {
	SensorID   string
	Hex        string
	RawMessage string
}

func (m ParsedMessage) HasSensorID() bool {
	return m.SensorID != ""
}

func (m ParsedMessage) IsValid() bool {
	return m.Hex != ""
}

// Reading converts the message, failing when the sensor id or hex code is missing.
func (m ParsedMessage) Reading(receivedTimestamp int64) (entities.Reading, error) {
	return entities.NewReadingAt(m.SensorID, m.Hex, receivedTimestamp)
}

// ParseMessage accepts "sensorId;hex" as well as a bare legacy "hex".
// Only the first delimiter splits; the payload keeps everything after it.
func ParseMessage(rawMessage string) ParsedMessage {
	trimmed := strings.TrimSpace(rawMessage)
	if trimmed == "" {
		return ParsedMessage{}
	}

	if sensorID, hex, found := strings.Cut(trimmed, entities.SensorIDDelimiter); found {
		return ParsedMessage{
			SensorID:   strings.TrimSpace(sensorID),
			Hex:        strings.TrimSpace(hex),
			RawMessage: trimmed,
		}
	}

	return ParsedMessage{Hex: trimmed, RawMessage: trimmed}
}

// ParsePacketLine is ParseMessage with the packet rule for extra delimiters:
// only the segment between the first and second delimiter is the payload.
func ParsePacketLine(rawMessage string) ParsedMessage {
	message := ParseMessage(rawMessage)
	if !message.HasSensorID() {
		return message
	}
	if hex, _, found := strings.Cut(message.Hex, entities.SensorIDDelimiter); found {
		message.Hex = strings.TrimSpace(hex)
	}
	return message
}

func IsValidFormat(rawMessage string) bool {
	return ParseMessage(rawMessage).IsValid()
}

func IsPacketEnd(line string) bool {
	return strings.TrimSpace(line) == entities.PacketTerminator
}
