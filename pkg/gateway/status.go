package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/processor"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/worker"
	"github.com/sirupsen/logrus"
)

type SensorLister interface {
	All() []entities.SensorProfile
}

type LatestReadings interface {
	LatestPerSensor(ctx context.Context) ([]entities.Record, error)
	CountAll(ctx context.Context) (int64, error)
}

// SensorStatus is one row of the status page.
type SensorStatus struct {
	entities.SensorProfile
	Stale              bool   `json:"stale"`
	Posture            string `json:"posture"`
	PostureDescription string `json:"postureDescription"`
	LastReadingAt      int64  `json:"lastReadingAt,omitempty"`
}

type Status struct {
	Connected     bool               `json:"connected"`
	Packets       processor.Snapshot `json:"packets"`
	Workers       worker.Stats       `json:"workers"`
	StoredRecords int64              `json:"storedRecords"`
	Sensors       []SensorStatus     `json:"sensors"`
}

// StatusReporter assembles the gateway status from its live components.
type StatusReporter struct {
	gateway  *Gateway
	stats    *processor.Stats
	sensors  SensorLister
	readings LatestReadings
	now      func() int64
	log      *logrus.Entry
}

func NewStatusReporter(gateway *Gateway, stats *processor.Stats, sensors SensorLister, readings LatestReadings, log *logrus.Entry) *StatusReporter {
	return &StatusReporter{
		gateway:  gateway,
		stats:    stats,
		sensors:  sensors,
		readings: readings,
		now:      entities.NowMillis,
		log:      log,
	}
}

func (r *StatusReporter) Status(ctx context.Context) (Status, error) {
	status := Status{
		Connected: r.gateway.Connected(),
		Packets:   r.stats.Snapshot(),
		Workers:   r.gateway.PoolStats(),
	}

	count, err := r.readings.CountAll(ctx)
	if err != nil {
		return status, err
	}
	status.StoredRecords = count

	latest, err := r.readings.LatestPerSensor(ctx)
	if err != nil {
		return status, err
	}
	bySensor := make(map[string]entities.Record, len(latest))
	for _, record := range latest {
		bySensor[record.SensorID] = record
	}

	now := r.now()
	profiles := r.sensors.All()
	status.Sensors = make([]SensorStatus, 0, len(profiles))
	for _, profile := range profiles {
		row := SensorStatus{SensorProfile: profile, Stale: profile.IsStale(now)}
		posture := entities.Unknown
		if record, ok := bySensor[profile.SensorID]; ok {
			posture = record.Posture()
			row.LastReadingAt = record.Timestamp
		}
		row.Posture = posture.String()
		row.PostureDescription = posture.Description()
		status.Sensors = append(status.Sensors, row)
	}
	return status, nil
}

// ServeHTTP renders the status as JSON.
func (r *StatusReporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	status, err := r.Status(req.Context())
	if err != nil {
		r.log.WithError(err).Error("Error building gateway status")
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		r.log.WithError(err).Warn("Error writing gateway status")
	}
}
