package transport

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/pkg/errors"
)

const (
	defaultBaudRate = 9600
	defaultDataBits = 8
	defaultStopBits = 1
	defaultParity   = "N"
	dialTimeout     = 10 * time.Second
)

// SerialConnector opens a serial device node, typically an RFCOMM binding
// such as /dev/rfcomm0.
type SerialConnector struct {
	Config serial.Config
	open   func(*serial.Config) (serial.Port, error)
}

func NewSerialConnector(address string, baudRate int, readTimeout time.Duration) *SerialConnector {
	if baudRate == 0 {
		baudRate = defaultBaudRate
	}
	return &SerialConnector{
		Config: serial.Config{
			Address:  address,
			BaudRate: baudRate,
			DataBits: defaultDataBits,
			StopBits: defaultStopBits,
			Parity:   defaultParity,
			Timeout:  readTimeout,
		},
		open: serial.Open,
	}
}

func (c *SerialConnector) Connect() (Stream, error) {
	config := c.Config
	port, err := c.open(&config)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", config.Address)
	}
	return &patientStream{port: port}, nil
}

func (c *SerialConnector) Address() string {
	return c.Config.Address
}

// patientStream hides read timeouts of the serial driver: device silence
// is not an error, it just means no lines arrive.
type patientStream struct {
	port   serial.Port
	closed atomic.Bool
}

func (s *patientStream) Read(p []byte) (int, error) {
	for {
		n, err := s.port.Read(p)
		if err == serial.ErrTimeout && n == 0 && !s.closed.Load() {
			continue
		}
		if err == serial.ErrTimeout {
			err = nil
			if n == 0 {
				err = net.ErrClosed
			}
		}
		return n, err
	}
}

func (s *patientStream) Close() error {
	s.closed.Store(true)
	return s.port.Close()
}

// TCPConnector dials a TCP endpoint that speaks the same line protocol,
// used for simulators and bench rigs.
type TCPConnector struct {
	address string
	timeout time.Duration
}

func NewTCPConnector(address string) *TCPConnector {
	return &TCPConnector{address: address, timeout: dialTimeout}
}

func (c *TCPConnector) Connect() (Stream, error) {
	conn, err := net.DialTimeout("tcp", c.address, c.timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.address)
	}
	return conn, nil
}

func (c *TCPConnector) Address() string {
	return c.address
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func() (Stream, error)

func (f ConnectorFunc) Connect() (Stream, error) {
	return f()
}

func (f ConnectorFunc) Address() string {
	return "in-memory"
}

type namedConnector struct {
	name    string
	connect func() (Stream, error)
}

// NewNamedConnector is ConnectorFunc with an address shown in logs and errors.
func NewNamedConnector(name string, connect func() (Stream, error)) Connector {
	return &namedConnector{name: name, connect: connect}
}

func (c *namedConnector) Connect() (Stream, error) {
	return c.connect()
}

func (c *namedConnector) Address() string {
	return c.name
}

// NewConnector builds the connector described by the transport configuration.
func NewConnector(config entities.TransportConfig) (Connector, error) {
	switch config.Kind {
	case entities.TransportSerial:
		return NewSerialConnector(config.Address, config.BaudRate, config.ReadTimeout), nil
	case entities.TransportTCP:
		return NewTCPConnector(config.Address), nil
	default:
		return nil, errors.Wrapf(entities.ErrValidation, "unknown transport kind %q", config.Kind)
	}
}
