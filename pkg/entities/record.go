package entities

import "time"

const (
	FallRecencyWindow  = 24 * time.Hour
	StaleDataThreshold = 5 * time.Minute
)

// Record is a reading attributed to a device and an owner, ready to be persisted.
type Record struct {
	ID            int64  `json:"id,omitempty"`
	DeviceAddress string `json:"deviceAddress"`
	Timestamp     int64  `json:"timestamp"`
	ReceivedMsg   string `json:"receivedMsg"`
	OwnerUserID   string `json:"ownerUserId"`
	SensorID      string `json:"sensorId"`
}

func (r Record) Posture() PostureCategory {
	return Classify(r.ReceivedMsg)
}

// SensorProfile is a sensor registry entry.
type SensorProfile struct {
	SensorID string `yaml:"sensorId" json:"sensorId"`
	Name     string `yaml:"name" json:"name"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	Notes    string `yaml:"notes,omitempty" json:"notes,omitempty"`
	AddedAt  int64  `yaml:"addedAt" json:"addedAt"`
	LastSeen int64  `yaml:"lastSeen" json:"lastSeen"`
}

// NewSensorProfile builds a profile for a sensor seen for the first time.
// The sensor id doubles as display name until someone renames it.
func NewSensorProfile(sensorID string, now int64) SensorProfile {
	return SensorProfile{
		SensorID: sensorID,
		Name:     sensorID,
		AddedAt:  now,
		LastSeen: now,
	}
}

func (s SensorProfile) IsStale(now int64) bool {
	return now-s.LastSeen > StaleDataThreshold.Milliseconds()
}
