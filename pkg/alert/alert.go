// Package alert delivers fall notifications.
package alert

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Sink interface {
	NotifyFall(ctx context.Context, title, body string) error
}

func FallTitle(sensorName string) string {
	return "Child " + sensorName
}

func FallBody(sensorID string) string {
	return "Fall detected for monitored person: " + sensorID
}

// LogSink writes alerts to the log at warn level.
type LogSink struct {
	log *logrus.Entry
}

func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) NotifyFall(_ context.Context, title, body string) error {
	s.log.WithField("title", title).Warn(body)
	return nil
}

// MultiSink notifies every sink, even after one of them fails.
type MultiSink []Sink

func (m MultiSink) NotifyFall(ctx context.Context, title, body string) error {
	var first error
	failed := 0
	for _, sink := range m {
		if err := sink.NotifyFall(ctx, title, body); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return errors.Wrap(first, fmt.Sprintf("%d of %d alert sinks failed", failed, len(m)))
	}
	return nil
}
