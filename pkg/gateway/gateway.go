// Package gateway connects the transport, the packet parser and the worker
// pool into one long running receive loop.
package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/processor"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/protocol"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/transport"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/worker"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	defaultStopTimeout       = 10 * time.Second
	reconnectInitialInterval = time.Second
	reconnectMaxInterval     = 30 * time.Second
)

// ErrGaveUp is returned by Run when the reconnect policy stops retrying.
var ErrGaveUp = errors.New("gave up reconnecting")

// Packet is one completed packet waiting for a worker.
type Packet struct {
	DeviceAddress string
	Readings      []entities.Reading
}

type PacketProcessor interface {
	ProcessReadings(ctx context.Context, ownerID, deviceAddress string, readings []entities.Reading) processor.Result
}

// OwnerSource resolves the aggregator acting for the gateway at processing time.
type OwnerSource interface {
	OwnerID() (string, bool)
}

type Gateway struct {
	connector     transport.Connector
	parser        *protocol.PacketParser
	processor     PacketProcessor
	owners        OwnerSource
	deviceAddress string
	log           *logrus.Entry

	workers     int
	queueSize   int
	registerer  prometheus.Registerer
	stopTimeout time.Duration
	newBackOff  func() backoff.BackOff

	pool      *worker.Pool[Packet]
	connected atomic.Bool
	attempt   atomic.Bool
}

type Option func(*Gateway)

func WithPool(workers, queueSize int) Option {
	return func(g *Gateway) {
		g.workers = workers
		g.queueSize = queueSize
	}
}

// WithRegisterer exposes the worker pool metrics.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(g *Gateway) {
		g.registerer = registerer
	}
}

func WithStopTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.stopTimeout = timeout
	}
}

// WithBackOff replaces the reconnect policy. A policy returning backoff.Stop
// makes Run return ErrGaveUp.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(g *Gateway) {
		g.newBackOff = newBackOff
	}
}

func New(connector transport.Connector, parser *protocol.PacketParser, packetProcessor PacketProcessor, owners OwnerSource, deviceAddress string, log *logrus.Entry, opts ...Option) *Gateway {
	g := &Gateway{
		connector:     connector,
		parser:        parser,
		processor:     packetProcessor,
		owners:        owners,
		deviceAddress: deviceAddress,
		log:           log,
		stopTimeout:   defaultStopTimeout,
		newBackOff:    reconnectBackOff,
	}
	for _, opt := range opts {
		opt(g)
	}

	poolOpts := []worker.Option[Packet]{worker.WithLogger[Packet](log)}
	if g.registerer != nil {
		poolOpts = append(poolOpts, worker.WithRegisterer[Packet](g.registerer, "posture_gateway"))
	}
	g.pool = worker.NewPool(g.workers, g.queueSize, g.processPacket, poolOpts...)
	return g
}

func reconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitialInterval
	b.MaxInterval = reconnectMaxInterval
	b.MaxElapsedTime = 0
	return b
}

// Run keeps a connection open until ctx is cancelled, reconnecting with the
// configured backoff. Queued packets are drained before it returns.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.pool.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Wrap(err, "start worker pool")
	}
	defer func() {
		if err := g.pool.Stop(g.stopTimeout); err != nil {
			g.log.WithError(err).Warn("Worker pool did not drain in time")
		}
	}()

	policy := g.newBackOff()
	for {
		g.connectOnce(ctx)
		if ctx.Err() != nil {
			g.log.Info("Gateway stopped")
			return nil
		}
		if g.attempt.Load() {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return ErrGaveUp
		}
		g.log.Infof("Reconnecting to %s in %s", g.connector.Address(), wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.log.Info("Gateway stopped")
			return nil
		case <-timer.C:
		}
	}
}

// connectOnce runs a fresh framer for a single connection.
func (g *Gateway) connectOnce(ctx context.Context) {
	g.attempt.Store(false)
	framer := transport.NewLineFramer(g.connector, g, g.log)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			framer.Cancel()
		case <-done:
		}
	}()

	if err := framer.Run(); err != nil {
		g.log.WithError(err).Warn("Connection ended")
	}
}

func (g *Gateway) Connected() bool {
	return g.connected.Load()
}

func (g *Gateway) PoolStats() worker.Stats {
	return g.pool.Stats()
}

func (g *Gateway) OnConnectionEstablished() {
	g.parser.Reset()
	g.connected.Store(true)
	g.attempt.Store(true)
}

func (g *Gateway) OnLine(line string) {
	readings, complete := g.parser.FeedLine(line)
	if !complete {
		return
	}
	err := g.pool.Submit(Packet{DeviceAddress: g.deviceAddress, Readings: readings})
	if err != nil {
		g.log.WithError(err).Warnf("Dropping packet with %d readings", len(readings))
	}
}

func (g *Gateway) OnConnectionDisconnected() {
	g.connected.Store(false)
}

func (g *Gateway) processPacket(ctx context.Context, packet Packet) error {
	ownerID, _ := g.owners.OwnerID()
	result := g.processor.ProcessReadings(ctx, ownerID, packet.DeviceAddress, packet.Readings)
	g.log.Debugf("Packet processed: %s", result.Outcome)
	return result.Err
}
