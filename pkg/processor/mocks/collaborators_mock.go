package mocks

import (
	"context"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/stretchr/testify/mock"
)

type StoreMock struct {
	mock.Mock
}

func (s *StoreMock) InsertAll(ctx context.Context, records []entities.Record) (int64, error) {
	args := s.Called(ctx, records)
	return args.Get(0).(int64), args.Error(1)
}

type RegistryMock struct {
	mock.Mock
}

func (r *RegistryMock) IsRegistered(sensorID string) bool {
	args := r.Called(sensorID)
	return args.Bool(0)
}

func (r *RegistryMock) AutoRegister(ctx context.Context, ownerID, sensorID string) error {
	args := r.Called(ctx, ownerID, sensorID)
	return args.Error(0)
}

func (r *RegistryMock) UpdateLastSeen(ctx context.Context, ownerID, sensorID string) error {
	args := r.Called(ctx, ownerID, sensorID)
	return args.Error(0)
}

type SyncerMock struct {
	mock.Mock
}

func (s *SyncerMock) BatchSyncMessages(records []entities.Record, ownerID string, callback entities.SyncCallback) {
	s.Called(records, ownerID, callback)
}

type AlertSinkMock struct {
	mock.Mock
}

func (a *AlertSinkMock) NotifyFall(ctx context.Context, title, body string) error {
	args := a.Called(ctx, title, body)
	return args.Error(0)
}
