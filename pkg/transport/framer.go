package transport

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const readBufferSize = 1024

var (
	// ErrConnect wraps every failure to establish the connection.
	ErrConnect = errors.New("unable to connect")
	// ErrCancelled is returned by Run when Cancel won the race against Connect.
	ErrCancelled = errors.New("connection cancelled")
)

// Stream is the readable side of a connected socket.
type Stream interface {
	io.Reader
	io.Closer
}

// Connector performs the blocking connect step and hands over the stream.
type Connector interface {
	Connect() (Stream, error)
	Address() string
}

// Callbacks are invoked from the goroutine running LineFramer.Run.
type Callbacks interface {
	OnConnectionEstablished()
	OnLine(line string)
	OnConnectionDisconnected()
}

// LineFramer turns the byte stream of one connection into text lines.
// Lines end at "\n", "\r" or "\r\n" and are cut to entities.MaxLineLength runes.
// A LineFramer serves a single connection; reconnecting needs a new instance.
type LineFramer struct {
	connector     Connector
	callbacks     Callbacks
	maxLineLength int
	log           *logrus.Entry

	mu        sync.Mutex
	stream    Stream
	cancelled bool
	closeOnce sync.Once
}

func NewLineFramer(connector Connector, callbacks Callbacks, log *logrus.Entry) *LineFramer {
	return &LineFramer{
		connector:     connector,
		callbacks:     callbacks,
		maxLineLength: entities.MaxLineLength,
		log:           log,
	}
}

// Run connects and reads until the stream ends, fails, or Cancel is called.
// A clean end of stream and a Cancel return nil.
func (f *LineFramer) Run() error {
	stream, err := f.connector.Connect()
	if err != nil {
		f.log.WithError(err).Errorf("Error at connect to %s", f.connector.Address())
		f.Cancel()
		return errors.Wrapf(ErrConnect, "%s: %v", f.connector.Address(), err)
	}

	f.mu.Lock()
	if f.cancelled {
		f.mu.Unlock()
		if closeErr := stream.Close(); closeErr != nil {
			f.log.WithError(closeErr).Warn("Could not close the client socket")
		}
		return ErrCancelled
	}
	f.stream = stream
	f.mu.Unlock()

	f.log.Infof("Connected to %s", f.connector.Address())
	f.callbacks.OnConnectionEstablished()

	err = f.readLines(stream)
	if f.isCancelled() {
		err = nil
	}
	if err != nil {
		f.log.WithError(err).Info("Input stream was disconnected")
	}
	f.Cancel()
	return err
}

func (f *LineFramer) readLines(stream Stream) error {
	reader := bufio.NewReaderSize(stream, readBufferSize)
	var line strings.Builder
	length := 0
	truncated := false
	previousCR := false

	dispatch := func() {
		if truncated {
			f.log.Debugf("Line exceeded %d characters and was truncated", f.maxLineLength)
		}
		f.callbacks.OnLine(line.String())
		line.Reset()
		length = 0
		truncated = false
	}

	for {
		r, _, err := reader.ReadRune()
		if err != nil {
			if err == io.EOF {
				if length > 0 || truncated {
					dispatch()
				}
				return nil
			}
			return err
		}

		switch r {
		case '\n':
			if previousCR {
				previousCR = false
				continue
			}
			dispatch()
		case '\r':
			previousCR = true
			dispatch()
			continue
		default:
			if length < f.maxLineLength {
				line.WriteRune(r)
				length++
			} else {
				truncated = true
			}
		}
		previousCR = false
	}
}

// Cancel closes the stream and signals the disconnect. It is safe to call
// from any goroutine and more than once; only the first call has an effect.
func (f *LineFramer) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	stream := f.stream
	f.mu.Unlock()

	f.closeOnce.Do(func() {
		if stream != nil {
			if err := stream.Close(); err != nil {
				f.log.WithError(err).Warn("Could not close the client socket")
			}
		}
		f.callbacks.OnConnectionDisconnected()
	})
}

func (f *LineFramer) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}
