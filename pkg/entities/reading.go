package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	PacketTerminator            string = "END_PACKET"
	SensorIDDelimiter           string = ";"
	DefaultMaxReadingsPerPacket int    = 1000
	MaxLineLength               int    = 64
	LogTruncateLength           int    = 50
)

// ErrValidation is returned when a value cannot be built from the given input.
var ErrValidation = errors.New("validation error")

// Reading is one sensor observation decoded from the wire protocol.
type Reading struct {
	sensorID          string
	hexCode           string
	receivedTimestamp int64
}

// NewReading creates a reading stamped with the current time.
func NewReading(sensorID, hexCode string) (Reading, error) {
	return NewReadingAt(sensorID, hexCode, NowMillis())
}

// NewReadingAt creates a reading with an explicit epoch milliseconds timestamp.
func NewReadingAt(sensorID, hexCode string, receivedTimestamp int64) (Reading, error) {
	sensorID = strings.TrimSpace(sensorID)
	hexCode = strings.TrimSpace(hexCode)
	if sensorID == "" {
		return Reading{}, errors.Wrap(ErrValidation, "sensorId cannot be empty")
	}
	if hexCode == "" {
		return Reading{}, errors.Wrap(ErrValidation, "hexCode cannot be empty")
	}
	return Reading{sensorID: sensorID, hexCode: hexCode, receivedTimestamp: receivedTimestamp}, nil
}

func (r Reading) SensorID() string {
	return r.sensorID
}

func (r Reading) HexCode() string {
	return r.hexCode
}

// ReceivedTimestamp returns epoch milliseconds.
func (r Reading) ReceivedTimestamp() int64 {
	return r.receivedTimestamp
}

func (r Reading) Posture() PostureCategory {
	return Classify(r.hexCode)
}

// Line renders the reading back into its wire form.
func (r Reading) Line() string {
	return r.sensorID + SensorIDDelimiter + r.hexCode
}

func (r Reading) String() string {
	return fmt.Sprintf("Reading{sensorId=%q, hexCode=%q, receivedTimestamp=%d}", r.sensorID, r.hexCode, r.receivedTimestamp)
}

// NowMillis returns the wall clock in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
