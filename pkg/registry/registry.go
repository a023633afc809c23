// Package registry keeps the set of known sensors and their display data.
package registry

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/gateways/cloud/network"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var ErrUnknownSensor = errors.New("unknown sensor")

// Registry is a goroutine-safe sensor cache backed by a YAML file.
// Every change is written through to the file and announced to the cloud
// when a publisher is configured.
type Registry struct {
	filePath  string
	files     filesystemManagement
	publisher network.Publisher
	userToken string
	log       *logrus.Entry
	now       func() int64

	mu      sync.RWMutex
	sensors map[string]entities.SensorProfile
}

// New loads the registry file. A missing file starts an empty registry.
// publisher may be nil.
func New(filePath string, publisher network.Publisher, userToken string, log *logrus.Entry) (*Registry, error) {
	sensors := map[string]entities.SensorProfile{}
	if _, err := os.Stat(filePath); err == nil {
		sensors, err = utils.ConfigurationParser(filePath, sensors)
		if err != nil {
			return nil, errors.Wrapf(err, "load sensor registry %s", filePath)
		}
		if sensors == nil {
			sensors = map[string]entities.SensorProfile{}
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat sensor registry %s", filePath)
	}

	return &Registry{
		filePath:  filePath,
		files:     &fileManagement{},
		publisher: publisher,
		userToken: userToken,
		log:       log,
		now:       entities.NowMillis,
		sensors:   sensors,
	}, nil
}

func (r *Registry) IsRegistered(sensorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sensors[sensorID]
	return ok
}

// AutoRegister adds a sensor seen for the first time. Registering a known
// sensor succeeds without side effects.
func (r *Registry) AutoRegister(ctx context.Context, ownerID, sensorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.sensors[sensorID]; ok {
		r.mu.Unlock()
		return nil
	}
	profile := entities.NewSensorProfile(sensorID, r.now())
	r.sensors[sensorID] = profile
	if err := r.persistLocked(); err != nil {
		delete(r.sensors, sensorID)
		r.mu.Unlock()
		return errors.Wrapf(err, "register sensor %s", sensorID)
	}
	r.mu.Unlock()

	r.log.Infof("Sensor %s registered by %s", sensorID, ownerID)
	if r.publisher != nil {
		if err := r.publisher.PublishSensorRegistered(r.userToken, ownerID, profile); err != nil {
			r.log.WithError(err).Warnf("Could not announce sensor %s", sensorID)
		}
	}
	return nil
}

// UpdateLastSeen stamps a known sensor with the current time. Unknown
// sensors are ignored.
func (r *Registry) UpdateLastSeen(ctx context.Context, ownerID, sensorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	profile, ok := r.sensors[sensorID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	previous := profile.LastSeen
	profile.LastSeen = r.now()
	r.sensors[sensorID] = profile
	if err := r.persistLocked(); err != nil {
		profile.LastSeen = previous
		r.sensors[sensorID] = profile
		r.mu.Unlock()
		return errors.Wrapf(err, "update last seen of %s", sensorID)
	}
	r.mu.Unlock()

	if r.publisher != nil {
		if err := r.publisher.PublishSensorSeen(r.userToken, ownerID, sensorID, profile.LastSeen); err != nil {
			r.log.WithError(err).Debugf("Could not announce last seen of %s", sensorID)
		}
	}
	return nil
}

func (r *Registry) Get(sensorID string) (entities.SensorProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.sensors[sensorID]
	return profile, ok
}

// DisplayName falls back to the sensor id when no name is known.
func (r *Registry) DisplayName(sensorID string) string {
	profile, ok := r.Get(sensorID)
	if !ok || profile.Name == "" {
		return sensorID
	}
	return profile.Name
}

// All returns the profiles ordered by display name.
func (r *Registry) All() []entities.SensorProfile {
	r.mu.RLock()
	profiles := make([]entities.SensorProfile, 0, len(r.sensors))
	for _, profile := range r.sensors {
		profiles = append(profiles, profile)
	}
	r.mu.RUnlock()

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Name == profiles[j].Name {
			return profiles[i].SensorID < profiles[j].SensorID
		}
		return profiles[i].Name < profiles[j].Name
	})
	return profiles
}

func (r *Registry) IDs() []string {
	profiles := r.All()
	ids := make([]string, len(profiles))
	for i, profile := range profiles {
		ids[i] = profile.SensorID
	}
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sensors)
}

// Rename sets the display data of a known sensor.
func (r *Registry) Rename(sensorID, name, location, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.sensors[sensorID]
	if !ok {
		return errors.Wrap(ErrUnknownSensor, sensorID)
	}
	previous := profile
	profile.Name = name
	profile.Location = location
	profile.Notes = notes
	r.sensors[sensorID] = profile
	if err := r.persistLocked(); err != nil {
		r.sensors[sensorID] = previous
		return errors.Wrapf(err, "rename sensor %s", sensorID)
	}
	return nil
}

// ListenForUpdates applies sensor renames received from the cloud until ctx
// is done or msgChan is closed.
func (r *Registry) ListenForUpdates(ctx context.Context, msgChan <-chan network.InMsg) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			r.handleUpdate(msg)
		}
	}
}

func (r *Registry) handleUpdate(msg network.InMsg) {
	if msg.RoutingKey != network.BindingKeySensorName {
		r.log.Debugf("Ignoring message with routing key %s", msg.RoutingKey)
		return
	}
	var renamed network.SensorRenamed
	if err := json.Unmarshal(msg.Body, &renamed); err != nil {
		r.log.WithError(err).Warn("Malformed sensor update")
		return
	}
	if err := r.Rename(renamed.SensorID, renamed.Name, renamed.Location, renamed.Notes); err != nil {
		r.log.WithError(err).Warn("Could not apply sensor update")
	}
}

func (r *Registry) persistLocked() error {
	data, err := yaml.Marshal(r.sensors)
	if err != nil {
		return err
	}
	return r.files.writeSensorsFile(r.filePath, data)
}
