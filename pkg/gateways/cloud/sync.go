// Package cloud replicates stored records to the remote service.
package cloud

import (
	"fmt"
	"sync"

	bloomFilter "github.com/bits-and-blooms/bloom/v3"
	"github.com/cenkalti/backoff"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/gateways/cloud/network"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BatchLimit is the largest number of documents sent in one message.
const BatchLimit = 500

const maxPublishRetries = 3

type SyncService struct {
	publisher network.Publisher
	userToken string
	log       *logrus.Entry
	now       func() int64

	duplicationFilter            bool
	filterCapacity               uint
	duplicationProbability       float64
	maximumPercentageFilterUsage float32
	newBackOff                   func() backoff.BackOff

	mu      sync.Mutex
	filters map[string]*bloomFilter.BloomFilter
	wg      sync.WaitGroup
	onClose func()
}

func NewSyncService(publisher network.Publisher, config entities.CloudConfig, log *logrus.Entry) *SyncService {
	if config.FilterCapacity == 0 {
		config.FilterCapacity = entities.DefaultFilterCapacity
	}
	if config.FilterProbability == 0 {
		config.FilterProbability = entities.DefaultFilterProbability
	}
	if config.FilterResetUsage == 0 {
		config.FilterResetUsage = entities.DefaultFilterResetUsage
	}
	return &SyncService{
		publisher:                    publisher,
		userToken:                    config.UserToken,
		log:                          log,
		now:                          entities.NowMillis,
		duplicationFilter:            config.DuplicationFilter,
		filterCapacity:               config.FilterCapacity,
		duplicationProbability:       config.FilterProbability,
		maximumPercentageFilterUsage: config.FilterResetUsage,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxPublishRetries)
		},
		filters: map[string]*bloomFilter.BloomFilter{},
	}
}

// NewAMQPSyncService dials the broker and returns a service publishing on it.
// Close stops the connection.
func NewAMQPSyncService(config entities.CloudConfig, log *logrus.Entry) (*SyncService, network.Messaging, error) {
	amqp := network.NewAMQP(config.URL, log)
	if err := amqp.Start(); err != nil {
		return nil, nil, errors.Wrap(err, "cloud sync")
	}
	service := NewSyncService(network.NewMsgPublisher(amqp), config, log)
	service.onClose = amqp.Stop
	return service, amqp, nil
}

// BatchSyncMessages uploads the records in the background and reports the
// outcome to callback. It never blocks on the network.
func (s *SyncService) BatchSyncMessages(records []entities.Record, ownerID string, callback entities.SyncCallback) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.SyncMessages(records, ownerID, callback)
	}()
}

// SyncMessages is the blocking form of BatchSyncMessages.
func (s *SyncService) SyncMessages(records []entities.Record, ownerID string, callback entities.SyncCallback) error {
	documents := s.pendingDocuments(records, ownerID)
	if len(documents) == 0 {
		callback.OnSuccess("All local data already synced")
		return nil
	}

	batches := utils.Chunk(documents, BatchLimit)
	for i, batch := range batches {
		publish := func() error {
			return s.publisher.PublishReadings(s.userToken, ownerID, batch)
		}
		if err := backoff.Retry(publish, s.newBackOff()); err != nil {
			err = errors.Wrapf(err, "failed to sync batch %d", i+1)
			s.log.WithError(err).Warnf("Sync of %d documents for %s stopped", len(documents), ownerID)
			callback.OnError(err)
			return err
		}
		s.markSynced(ownerID, batch)
		s.log.Debugf("Batch %d/%d synced successfully", i+1, len(batches))
		callback.OnProgress(i+1, len(batches))
	}

	callback.OnSuccess(fmt.Sprintf("All %d messages synced successfully", len(documents)))
	return nil
}

// Wait blocks until every background upload has reported.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

func (s *SyncService) Close() {
	s.wg.Wait()
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *SyncService) pendingDocuments(records []entities.Record, ownerID string) []entities.Document {
	syncTimestamp := s.now()
	documents := make([]entities.Document, 0, len(records))
	positions := make(map[string]int, len(records))
	for _, record := range records {
		document := entities.NewDocument(record, ownerID, syncTimestamp)
		// A later reading with the same id replaces the earlier one.
		if i, ok := positions[document.DocumentID]; ok {
			documents[i] = document
			continue
		}
		if s.isDocumentDuplicated(ownerID, document.DocumentID) {
			continue
		}
		positions[document.DocumentID] = len(documents)
		documents = append(documents, document)
	}
	return documents
}

func (s *SyncService) isDocumentDuplicated(ownerID, documentID string) bool {
	if !s.duplicationFilter {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	filter, ok := s.filters[ownerID]
	if !ok {
		return false
	}
	return filter.TestString(documentID)
}

func (s *SyncService) markSynced(ownerID string, documents []entities.Document) {
	if !s.duplicationFilter {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	filter, ok := s.filters[ownerID]
	if !ok {
		filter = bloomFilter.NewWithEstimates(s.filterCapacity, s.duplicationProbability)
		s.filters[ownerID] = filter
	}
	for _, document := range documents {
		s.resetDuplicationFilter(ownerID, filter)
		filter.AddString(document.DocumentID)
	}
}

func (s *SyncService) resetDuplicationFilter(ownerID string, filter *bloomFilter.BloomFilter) {
	approximatedFilterSize := filter.ApproximatedSize()
	currentPercentageFilterUsage := (float32(approximatedFilterSize) / float32(s.filterCapacity)) * 100
	if currentPercentageFilterUsage >= s.maximumPercentageFilterUsage {
		s.log.Debugf("Duplication filter for %s reached %.1f%% usage, clearing it", ownerID, currentPercentageFilterUsage)
		filter.ClearAll()
	}
}
