package protocol

import (
	"fmt"
	"strings"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PacketParser buffers readings until the packet terminator arrives.
//
// Wire format:
//
//	sensor001;0xAB3311
//	sensor002;0xEF0112
//	END_PACKET
//
// A PacketParser must only be used from one goroutine.
type PacketParser struct {
	buffer        []entities.Reading
	maxBufferSize int
	log           *logrus.Entry
}

// NewPacketParser returns a parser that discards its partial packet once it
// holds maxBufferSize readings and another one arrives.
func NewPacketParser(maxBufferSize int, log *logrus.Entry) (*PacketParser, error) {
	if maxBufferSize <= 0 {
		return nil, errors.Wrap(entities.ErrValidation, "maxBufferSize must be positive")
	}
	return &PacketParser{
		buffer:        make([]entities.Reading, 0, initialCapacity(maxBufferSize)),
		maxBufferSize: maxBufferSize,
		log:           log,
	}, nil
}

func initialCapacity(maxBufferSize int) int {
	const typicalPacket = 16
	if maxBufferSize < typicalPacket {
		return maxBufferSize
	}
	return typicalPacket
}

// FeedLine consumes one raw line. It returns the completed packet and true
// when line is the terminator, and nil and false otherwise.
func (p *PacketParser) FeedLine(line string) ([]entities.Reading, bool) {
	trimmed := strings.TrimSpace(line)

	if trimmed == entities.PacketTerminator {
		packet := make([]entities.Reading, len(p.buffer))
		copy(packet, p.buffer)
		p.clear()
		p.log.Debugf("Packet complete with %d readings", len(packet))
		return packet, true
	}

	if trimmed == "" {
		return nil, false
	}

	reading, err := p.parseLine(trimmed)
	if err != nil {
		p.log.Warn(err)
		return nil, false
	}

	if len(p.buffer) >= p.maxBufferSize {
		p.log.Warnf("Buffer overflow protection: clearing %d readings (max: %d). Possible missing %s.",
			len(p.buffer), p.maxBufferSize, entities.PacketTerminator)
		p.clear()
	}
	p.buffer = append(p.buffer, reading)
	p.log.Tracef("Buffered reading: %s -> %s", reading.SensorID(), reading.HexCode())
	return nil, false
}

// FeedNullableLine is FeedLine for callers that may not have a line at all.
func (p *PacketParser) FeedNullableLine(line *string) ([]entities.Reading, bool) {
	if line == nil {
		return nil, false
	}
	return p.FeedLine(*line)
}

func (p *PacketParser) parseLine(line string) (entities.Reading, error) {
	delimiterIndex := strings.Index(line, entities.SensorIDDelimiter)
	if delimiterIndex == -1 {
		return entities.Reading{}, malformed("no delimiter '"+entities.SensorIDDelimiter+"'", line)
	}

	sensorID := strings.TrimSpace(line[:delimiterIndex])
	hexCode := strings.TrimSpace(line[delimiterIndex+1:])
	if sensorID == "" {
		return entities.Reading{}, malformed("empty sensorId", line)
	}
	if hexCode == "" {
		return entities.Reading{}, malformed("empty hexCode", line)
	}

	if next := strings.Index(hexCode, entities.SensorIDDelimiter); next != -1 {
		p.log.Debugf("Line contains multiple delimiters, using first segment only: %q", TruncateForLog(line))
		hexCode = strings.TrimSpace(hexCode[:next])
		if hexCode == "" {
			return entities.Reading{}, malformed("empty hexCode after delimiter handling", line)
		}
	}

	return entities.NewReading(sensorID, hexCode)
}

func malformed(reason, line string) error {
	return errors.Wrapf(entities.ErrValidation, "malformed line (%s): %q", reason, TruncateForLog(line))
}

// Reset drops any partial packet, e.g. after a reconnect.
func (p *PacketParser) Reset() {
	cleared := len(p.buffer)
	p.clear()
	if cleared > 0 {
		p.log.Debugf("Parser reset, cleared %d buffered readings", cleared)
	}
}

func (p *PacketParser) clear() {
	p.buffer = p.buffer[:0]
}

func (p *PacketParser) BufferSize() int {
	return len(p.buffer)
}

func (p *PacketParser) MaxBufferSize() int {
	return p.maxBufferSize
}

func (p *PacketParser) IsBufferEmpty() bool {
	return len(p.buffer) == 0
}

// BufferContents returns a copy of the partial packet.
func (p *PacketParser) BufferContents() []entities.Reading {
	contents := make([]entities.Reading, len(p.buffer))
	copy(contents, p.buffer)
	return contents
}

// TruncateForLog shortens s so a misbehaving device cannot flood the logs.
func TruncateForLog(s string) string {
	if len(s) <= entities.LogTruncateLength {
		return s
	}
	return fmt.Sprintf("%s... (%d chars)", s[:entities.LogTruncateLength], len(s))
}
