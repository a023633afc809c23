package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Logrus builds component loggers that share one output and level.
type Logrus struct {
	level  string
	output io.Writer
	json   bool

	once   sync.Once
	logger *logrus.Logger
}

// NewLogrus creates a new logrus instance
func NewLogrus(level string, output io.Writer) *Logrus {
	return &Logrus{level: level, output: output}
}

// NewJSONLogrus creates a logrus instance that emits one JSON object per line.
func NewJSONLogrus(level string, output io.Writer) *Logrus {
	return &Logrus{level: level, output: output, json: true}
}

// Get returns a logger tagged with the given component name.
func (l *Logrus) Get(context string) *logrus.Entry {
	l.once.Do(l.build)
	return l.logger.WithFields(logrus.Fields{
		"Context": context,
	})
}

func (l *Logrus) build() {
	log := logrus.New()
	level, err := logrus.ParseLevel(l.level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if l.json {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}
	log.SetOutput(l.output)
	l.logger = log
}

// Discard returns an entry that drops everything, for wiring components in tests.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
