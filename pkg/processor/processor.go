// Package processor turns completed packets into stored records and their
// side effects.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/alert"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/protocol"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoOwner    = errors.New("no authenticated owner")
	ErrStoreWrite = errors.New("local store write failed")
)

type SyncCallback = entities.SyncCallback

type Store interface {
	InsertAll(ctx context.Context, records []entities.Record) (int64, error)
}

type Registry interface {
	IsRegistered(sensorID string) bool
	AutoRegister(ctx context.Context, ownerID, sensorID string) error
	UpdateLastSeen(ctx context.Context, ownerID, sensorID string) error
}

type Syncer interface {
	BatchSyncMessages(records []entities.Record, ownerID string, callback SyncCallback)
}

type AlertSink interface {
	NotifyFall(ctx context.Context, title, body string) error
}

type Outcome int

const (
	// Persisted means the records were stored and handed to the syncer.
	Persisted Outcome = iota
	NoOwner
	NoValidReadings
	StoreFailed
)

func (o Outcome) String() string {
	switch o {
	case Persisted:
		return "persisted"
	case NoOwner:
		return "no owner"
	case NoValidReadings:
		return "no valid readings"
	case StoreFailed:
		return "store failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes what one ProcessPacket call did.
type Result struct {
	Outcome         Outcome
	Err             error
	PacketTimestamp int64
	Valid           int
	Invalid         int
	Inserted        int64
	Sensors         []string
	CountBySensor   map[string]int
	FallAlerts      int
	Snapshot        Snapshot
}

type sensorCount struct {
	sensorID string
	count    int
}

type Processor struct {
	store       Store
	registry    Registry
	syncer      Syncer
	alerts      AlertSink
	stats       *Stats
	alertWindow time.Duration
	now         func() int64
	log         *logrus.Entry
}

type Option func(*Processor)

func WithAlertWindow(window time.Duration) Option {
	return func(p *Processor) {
		if window > 0 {
			p.alertWindow = window
		}
	}
}

func WithClock(now func() int64) Option {
	return func(p *Processor) {
		p.now = now
	}
}

func WithStats(stats *Stats) Option {
	return func(p *Processor) {
		p.stats = stats
	}
}

// New wires a processor. A nil syncer disables remote replication and a nil
// alert sink logs alerts.
func New(store Store, registry Registry, syncer Syncer, alerts AlertSink, log *logrus.Entry, opts ...Option) *Processor {
	p := &Processor{
		store:       store,
		registry:    registry,
		syncer:      syncer,
		alerts:      alerts,
		stats:       NewStats(),
		alertWindow: entities.FallRecencyWindow,
		now:         entities.NowMillis,
		log:         log,
	}
	if p.alerts == nil {
		p.alerts = alert.NewLogSink(log)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Stats() *Stats {
	return p.stats
}

// ProcessReadings processes readings already assembled by the packet parser.
func (p *Processor) ProcessReadings(ctx context.Context, ownerID, deviceAddress string, readings []entities.Reading) Result {
	lines := make([]string, len(readings))
	for i, reading := range readings {
		lines[i] = reading.Line()
	}
	return p.ProcessPacket(ctx, ownerID, deviceAddress, lines)
}

// ProcessPacket stores the valid lines of one packet under their sensor ids
// and runs the registry, alert and sync side effects. Only a missing owner
// or a failed store write stops it; other failures are logged.
func (p *Processor) ProcessPacket(ctx context.Context, ownerID, deviceAddress string, lines []string) Result {
	packetTimestamp := p.now()
	result := Result{PacketTimestamp: packetTimestamp}

	if ownerID == "" {
		p.log.Error("Cannot process packet: aggregator not authenticated")
		p.stats.recordFailure("owner")
		result.Outcome = NoOwner
		result.Err = ErrNoOwner
		return result
	}

	records := make([]entities.Record, 0, len(lines))
	var counts []sensorCount
	index := map[string]int{}
	for _, line := range lines {
		message := protocol.ParsePacketLine(line)
		if !message.HasSensorID() || !message.IsValid() {
			p.log.Warnf("Skipping invalid message: %s", protocol.TruncateForLog(line))
			result.Invalid++
			continue
		}

		records = append(records, entities.Record{
			DeviceAddress: deviceAddress,
			Timestamp:     packetTimestamp,
			ReceivedMsg:   message.Hex,
			OwnerUserID:   message.SensorID,
			SensorID:      message.SensorID,
		})
		if i, ok := index[message.SensorID]; ok {
			counts[i].count++
		} else {
			index[message.SensorID] = len(counts)
			counts = append(counts, sensorCount{sensorID: message.SensorID, count: 1})
		}
	}
	result.Valid = len(records)
	result.CountBySensor = make(map[string]int, len(counts))
	result.Sensors = make([]string, 0, len(counts))
	for _, c := range counts {
		result.CountBySensor[c.sensorID] = c.count
		result.Sensors = append(result.Sensors, c.sensorID)
	}
	p.stats.recordReadings(result.Valid, result.Invalid)
	p.log.Infof("Packet parsed: %d valid, %d invalid messages", result.Valid, result.Invalid)

	p.updateRegistry(ctx, ownerID, result.Sensors)
	result.FallAlerts = p.alertFalls(ctx, records)

	if len(records) == 0 {
		p.log.Warn("No valid entities to save from packet")
		result.Outcome = NoValidReadings
		return result
	}

	inserted, err := p.store.InsertAll(ctx, records)
	if err != nil {
		p.log.WithError(err).Error("Error saving packet to database")
		p.stats.recordFailure("store")
		result.Outcome = StoreFailed
		result.Err = errors.Wrap(ErrStoreWrite, err.Error())
		return result
	}
	result.Inserted = inserted
	p.log.Infof("Saved %d messages to the local store", inserted)

	result.Snapshot = p.stats.recordPacket(packetTimestamp, len(records), counts)
	p.log.Info(result.Snapshot.LastSummary)

	if p.syncer != nil {
		p.syncer.BatchSyncMessages(records, ownerID, &logCallback{log: p.log, stats: p.stats})
	}
	result.Outcome = Persisted
	return result
}

func (p *Processor) updateRegistry(ctx context.Context, ownerID string, sensors []string) {
	for _, sensorID := range sensors {
		if !p.registry.IsRegistered(sensorID) {
			p.log.Infof("Auto-registering new sensor: %s", sensorID)
			if err := p.registry.AutoRegister(ctx, ownerID, sensorID); err != nil {
				p.log.WithError(err).Warnf("Auto-registration failed for %s", sensorID)
				p.stats.recordFailure("registry")
			}
			continue
		}
		if err := p.registry.UpdateLastSeen(ctx, ownerID, sensorID); err != nil {
			p.log.WithError(err).Warnf("Last seen update failed for %s", sensorID)
			p.stats.recordFailure("registry")
		}
	}
}

func (p *Processor) alertFalls(ctx context.Context, records []entities.Record) int {
	raised := 0
	for _, record := range records {
		if !record.Posture().IsFall() {
			continue
		}
		if p.now()-record.Timestamp > p.alertWindow.Milliseconds() {
			continue
		}
		p.log.Warnf("Fall detected for sensor: %s", record.SensorID)
		if err := p.notifyFall(ctx, record.SensorID); err != nil {
			p.log.WithError(err).Error("Error checking for fall")
			p.stats.recordFailure("alert")
			continue
		}
		p.stats.recordFall()
		raised++
	}
	return raised
}

func (p *Processor) notifyFall(ctx context.Context, sensorID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("alert sink panicked: %v", r)
		}
	}()
	return p.alerts.NotifyFall(ctx, alert.FallTitle(sensorID), alert.FallBody(sensorID))
}

type logCallback struct {
	log   *logrus.Entry
	stats *Stats
}

func (c *logCallback) OnSuccess(message string) {
	c.log.Debugf("Packet synced: %s", message)
}

func (c *logCallback) OnError(err error) {
	c.log.WithError(err).Warn("Packet sync failed, will retry")
	c.stats.recordFailure("sync")
}

func (c *logCallback) OnProgress(current, total int) {
	c.log.Debugf("Sync progress: %d/%d", current, total)
}
