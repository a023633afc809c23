package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/logging"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/processor/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	owner         = "aggregator@example.com"
	deviceAddress = "00:11:22:33:44:55"
	packetTime    = int64(1700000000000)
)

type processorSuite struct {
	suite.Suite
	ctx       context.Context
	store     *mocks.StoreMock
	registry  *mocks.RegistryMock
	syncer    *mocks.SyncerMock
	alerts    *mocks.AlertSinkMock
	processor *Processor
}

func (s *processorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = new(mocks.StoreMock)
	s.registry = new(mocks.RegistryMock)
	s.syncer = new(mocks.SyncerMock)
	s.alerts = new(mocks.AlertSinkMock)
	s.processor = New(s.store, s.registry, s.syncer, s.alerts, logging.Discard(),
		WithClock(func() int64 { return packetTime }))
}

func (s *processorSuite) assertNothingHappened() {
	s.store.AssertNotCalled(s.T(), "InsertAll", mock.Anything, mock.Anything)
	s.registry.AssertNotCalled(s.T(), "AutoRegister", mock.Anything, mock.Anything, mock.Anything)
	s.registry.AssertNotCalled(s.T(), "UpdateLastSeen", mock.Anything, mock.Anything, mock.Anything)
	s.alerts.AssertNotCalled(s.T(), "NotifyFall", mock.Anything, mock.Anything, mock.Anything)
	s.syncer.AssertNotCalled(s.T(), "BatchSyncMessages", mock.Anything, mock.Anything, mock.Anything)
}

func record(sensorID, hex string) entities.Record {
	return entities.Record{
		DeviceAddress: deviceAddress,
		Timestamp:     packetTime,
		ReceivedMsg:   hex,
		OwnerUserID:   sensorID,
		SensorID:      sensorID,
	}
}

func (s *processorSuite) TestTwoNewSensorsWithOneFall() {
	expected := []entities.Record{record("sensor001", "0xAB3311"), record("sensor002", "0xEF0112")}
	s.registry.On("IsRegistered", "sensor001").Return(false)
	s.registry.On("IsRegistered", "sensor002").Return(false)
	s.registry.On("AutoRegister", mock.Anything, owner, "sensor001").Return(nil).Once()
	s.registry.On("AutoRegister", mock.Anything, owner, "sensor002").Return(nil).Once()
	s.alerts.On("NotifyFall", mock.Anything, "Child sensor002", "Fall detected for monitored person: sensor002").Return(nil).Once()
	s.store.On("InsertAll", mock.Anything, expected).Return(int64(2), nil).Once()
	s.syncer.On("BatchSyncMessages", expected, owner, mock.Anything).Return().Once()

	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor001;0xAB3311", "sensor002;0xEF0112"})

	s.Equal(Persisted, result.Outcome)
	s.NoError(result.Err)
	s.Equal(2, result.Valid)
	s.Equal(int64(2), result.Inserted)
	s.Equal(1, result.FallAlerts)
	s.Equal([]string{"sensor001", "sensor002"}, result.Sensors)
	s.store.AssertExpectations(s.T())
	s.registry.AssertExpectations(s.T())
	s.alerts.AssertExpectations(s.T())
	s.syncer.AssertExpectations(s.T())
}

func (s *processorSuite) TestKnownSensorIsTouchedOncePerPacket() {
	s.registry.On("IsRegistered", "sensor001").Return(true)
	s.registry.On("UpdateLastSeen", mock.Anything, owner, "sensor001").Return(nil).Once()
	s.store.On("InsertAll", mock.Anything, mock.Anything).Return(int64(2), nil).Once()
	s.syncer.On("BatchSyncMessages", mock.Anything, owner, mock.Anything).Return()

	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor001;0xAB3311", "sensor001;0xBA3311"})

	s.Equal(Persisted, result.Outcome)
	s.Equal(map[string]int{"sensor001": 2}, result.CountBySensor)
	s.registry.AssertNumberOfCalls(s.T(), "UpdateLastSeen", 1)
	s.registry.AssertNotCalled(s.T(), "AutoRegister", mock.Anything, mock.Anything, mock.Anything)
	records := s.store.Calls[0].Arguments.Get(1).([]entities.Record)
	s.Len(records, 2)
}

func (s *processorSuite) TestUnknownSensorIsRegisteredOncePerPacket() {
	s.registry.On("IsRegistered", "sensor003").Return(false)
	s.registry.On("AutoRegister", mock.Anything, owner, "sensor003").Return(nil).Once()
	s.store.On("InsertAll", mock.Anything, []entities.Record{record("sensor003", "0xAB3311"), record("sensor003", "0xAC4312")}).
		Return(int64(2), nil).Once()
	s.syncer.On("BatchSyncMessages", mock.Anything, owner, mock.Anything).Return()

	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor003;0xAB3311", "sensor003;0xAC4312"})

	s.Equal(Persisted, result.Outcome)
	s.Equal(map[string]int{"sensor003": 2}, result.CountBySensor)
	s.registry.AssertNumberOfCalls(s.T(), "AutoRegister", 1)
	s.registry.AssertNumberOfCalls(s.T(), "IsRegistered", 1)
	s.registry.AssertNotCalled(s.T(), "UpdateLastSeen", mock.Anything, mock.Anything, mock.Anything)
	s.store.AssertExpectations(s.T())
}

func (s *processorSuite) TestPacketWithoutValidReadingsIsANoOp() {
	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{";0xAB3311", "sensor001;"})

	s.Equal(NoValidReadings, result.Outcome)
	s.NoError(result.Err)
	s.Equal(2, result.Invalid)
	s.Zero(result.Valid)
	s.assertNothingHappened()
}

func (s *processorSuite) TestPacketWithoutOwnerIsDropped() {
	result := s.processor.ProcessPacket(s.ctx, "", deviceAddress, []string{"sensor001;0xAB3311"})

	s.Equal(NoOwner, result.Outcome)
	s.ErrorIs(result.Err, ErrNoOwner)
	s.assertNothingHappened()
	s.Zero(s.processor.Stats().Snapshot().PacketCount)
}

func (s *processorSuite) TestLegacyLinesWithoutSensorIDAreInvalid() {
	s.registry.On("IsRegistered", "sensor001").Return(true)
	s.registry.On("UpdateLastSeen", mock.Anything, owner, "sensor001").Return(nil)
	s.store.On("InsertAll", mock.Anything, []entities.Record{record("sensor001", "0xAB3311")}).Return(int64(1), nil)
	s.syncer.On("BatchSyncMessages", mock.Anything, owner, mock.Anything).Return()

	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"0xAB3311", "", "sensor001;0xAB3311;extra"})

	s.Equal(1, result.Valid)
	s.Equal(2, result.Invalid)
	s.store.AssertExpectations(s.T())
}

func (s *processorSuite) TestRegistryFailureDoesNotBlockPersistence() {
	s.registry.On("IsRegistered", mock.Anything).Return(false)
	s.registry.On("AutoRegister", mock.Anything, owner, "sensor001").Return(errors.New("disk full")).Once()
	s.registry.On("AutoRegister", mock.Anything, owner, "sensor002").Return(nil).Once()
	s.store.On("InsertAll", mock.Anything, mock.Anything).Return(int64(2), nil).Once()
	s.syncer.On("BatchSyncMessages", mock.Anything, owner, mock.Anything).Return().Once()

	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor001;0xAB3311", "sensor002;0xAB3311"})

	s.Equal(Persisted, result.Outcome)
	s.registry.AssertExpectations(s.T())
	s.syncer.AssertExpectations(s.T())
}

func (s *processorSuite) TestAlertFailureAndPanicDoNotBlockPersistence() {
	s.registry.On("IsRegistered", mock.Anything).Return(true)
	s.registry.On("UpdateLastSeen", mock.Anything, owner, mock.Anything).Return(nil)
	s.alerts.On("NotifyFall", mock.Anything, "Child sensor001", mock.Anything).Return(errors.New("broker down")).Once()
	s.alerts.On("NotifyFall", mock.Anything, "Child sensor002", mock.Anything).Run(func(mock.Arguments) {
		panic("sink exploded")
	}).Return(nil).Once()
	s.store.On("InsertAll", mock.Anything, mock.Anything).Return(int64(2), nil).Once()
	s.syncer.On("BatchSyncMessages", mock.Anything, owner, mock.Anything).Return().Once()

	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor001;0xEF0112", "sensor002;0xef0112"})

	s.Equal(Persisted, result.Outcome)
	s.Zero(result.FallAlerts)
	s.store.AssertExpectations(s.T())
	s.syncer.AssertExpectations(s.T())
}

func (s *processorSuite) TestStoreFailureSkipsSync() {
	s.registry.On("IsRegistered", mock.Anything).Return(true)
	s.registry.On("UpdateLastSeen", mock.Anything, owner, mock.Anything).Return(nil)
	s.store.On("InsertAll", mock.Anything, mock.Anything).Return(int64(0), errors.New("database is locked")).Once()

	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor001;0xAB3311"})

	s.Equal(StoreFailed, result.Outcome)
	s.ErrorIs(result.Err, ErrStoreWrite)
	s.syncer.AssertNotCalled(s.T(), "BatchSyncMessages", mock.Anything, mock.Anything, mock.Anything)
	s.Zero(s.processor.Stats().Snapshot().PacketCount)
}

func (s *processorSuite) TestFallsOutsideTheRecencyWindowAreNotAlerted() {
	calls := 0
	s.processor.now = func() int64 {
		calls++
		if calls == 1 {
			return packetTime
		}
		return packetTime + (25 * time.Hour).Milliseconds()
	}
	s.registry.On("IsRegistered", mock.Anything).Return(true)
	s.registry.On("UpdateLastSeen", mock.Anything, owner, mock.Anything).Return(nil)
	s.store.On("InsertAll", mock.Anything, mock.Anything).Return(int64(1), nil)
	s.syncer.On("BatchSyncMessages", mock.Anything, owner, mock.Anything).Return()

	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor001;0xEF0112"})

	s.Zero(result.FallAlerts)
	s.alerts.AssertNotCalled(s.T(), "NotifyFall", mock.Anything, mock.Anything, mock.Anything)
}

func (s *processorSuite) TestStatsAreUpdatedAfterPersistence() {
	s.registry.On("IsRegistered", mock.Anything).Return(true)
	s.registry.On("UpdateLastSeen", mock.Anything, owner, mock.Anything).Return(nil)
	s.store.On("InsertAll", mock.Anything, mock.Anything).Return(int64(3), nil)
	s.syncer.On("BatchSyncMessages", mock.Anything, owner, mock.Anything).Return()
	updates, cancel := s.processor.Stats().Subscribe()
	defer cancel()

	s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor001;0xAB3311"})
	result := s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor002;0xAB3311", "sensor001;0xAB3311", "sensor002;0xAC4312"})

	expected := Snapshot{
		PacketCount:         2,
		LastPacketTimestamp: packetTime,
		LastSummary:         "Packet #2: 3 messages [sensor002:2 sensor001:1 ]",
	}
	s.Equal(expected, result.Snapshot)
	s.Equal(expected, s.processor.Stats().Snapshot())
	s.Equal(expected, <-updates)
}

func (s *processorSuite) TestSyncCallbackRecordsFailures() {
	s.registry.On("IsRegistered", mock.Anything).Return(true)
	s.registry.On("UpdateLastSeen", mock.Anything, owner, mock.Anything).Return(nil)
	s.store.On("InsertAll", mock.Anything, mock.Anything).Return(int64(1), nil)
	s.syncer.On("BatchSyncMessages", mock.Anything, owner, mock.Anything).Run(func(args mock.Arguments) {
		callback := args.Get(2).(SyncCallback)
		callback.OnProgress(1, 1)
		callback.OnError(errors.New("channel closed"))
	}).Return()

	s.processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor001;0xAB3311"})

	s.Equal(float64(1), testutil.ToFloat64(s.processor.Stats().failures.WithLabelValues("sync")))
}

func (s *processorSuite) TestProcessReadings() {
	first, err := entities.NewReading("sensor001", "0xAB3311")
	s.Require().NoError(err)
	second, err := entities.NewReading(" sensor002 ", " 0x793248 ")
	s.Require().NoError(err)
	expected := []entities.Record{record("sensor001", "0xAB3311"), record("sensor002", "0x793248")}
	s.registry.On("IsRegistered", mock.Anything).Return(true)
	s.registry.On("UpdateLastSeen", mock.Anything, owner, mock.Anything).Return(nil)
	s.store.On("InsertAll", mock.Anything, expected).Return(int64(2), nil).Once()
	s.syncer.On("BatchSyncMessages", expected, owner, mock.Anything).Return().Once()

	result := s.processor.ProcessReadings(s.ctx, owner, deviceAddress, []entities.Reading{first, second})

	s.Equal(Persisted, result.Outcome)
	s.store.AssertExpectations(s.T())
}

func (s *processorSuite) TestWithoutSyncer() {
	processor := New(s.store, s.registry, nil, nil, logging.Discard(), WithClock(func() int64 { return packetTime }))
	s.registry.On("IsRegistered", mock.Anything).Return(true)
	s.registry.On("UpdateLastSeen", mock.Anything, owner, mock.Anything).Return(nil)
	s.store.On("InsertAll", mock.Anything, mock.Anything).Return(int64(1), nil)

	result := processor.ProcessPacket(s.ctx, owner, deviceAddress, []string{"sensor001;0xEF0112"})

	s.Equal(Persisted, result.Outcome)
	s.Equal(1, result.FallAlerts)
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(processorSuite))
}

func TestStatsRegisterAndUnsubscribe(t *testing.T) {
	stats := NewStats()
	registry := prometheus.NewRegistry()

	if err := stats.Register(registry); err != nil {
		t.Fatalf("register stats: %v", err)
	}
	if err := stats.Register(registry); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	updates, cancel := stats.Subscribe()
	cancel()
	cancel()
	stats.recordPacket(1, 1, []sensorCount{{sensorID: "sensor001", count: 1}})
	if _, ok := <-updates; ok {
		t.Fatal("expected closed subscription")
	}
}

func TestSlowSubscriberSeesLatestSnapshot(t *testing.T) {
	stats := NewStats()
	updates, cancel := stats.Subscribe()
	defer cancel()

	stats.recordPacket(1, 1, nil)
	stats.recordPacket(2, 1, nil)

	latest := <-updates
	if latest.PacketCount != 2 || latest.LastSummary != "Packet #2: 1 messages []" {
		t.Fatalf("unexpected snapshot %+v", latest)
	}
}

func TestOutcomeString(t *testing.T) {
	for outcome, expected := range map[Outcome]string{
		Persisted:       "persisted",
		NoOwner:         "no owner",
		NoValidReadings: "no valid readings",
		StoreFailed:     "store failed",
		Outcome(9):      "Outcome(9)",
	} {
		if outcome.String() != expected {
			t.Errorf("Outcome %d: got %q, want %q", int(outcome), outcome.String(), expected)
		}
	}
}
