package entities

import (
	"strconv"
	"strings"
)

var documentIDReplacer = strings.NewReplacer("@", "_", ".", "_", ":", "")

// Document is the remote copy of one stored record.
type Document struct {
	DocumentID    string `json:"documentId"`
	ChildID       string `json:"childId"`
	AggregatorID  string `json:"aggregatorId"`
	DeviceAddress string `json:"deviceAddress"`
	Timestamp     int64  `json:"timestamp"`
	ReceivedMsg   string `json:"receivedMsg"`
	SyncTimestamp int64  `json:"syncTimestamp"`
}

// GenerateDocumentID builds aggregator_child_timestamp with "@" and "."
// replaced by "_" and ":" removed, so the same record always maps to the
// same remote document.
func GenerateDocumentID(aggregatorID, childID string, timestamp int64) string {
	return documentIDReplacer.Replace(aggregatorID) + "_" + documentIDReplacer.Replace(childID) + "_" + strconv.FormatInt(timestamp, 10)
}

// NewDocument maps a record uploaded by aggregatorID.
func NewDocument(record Record, aggregatorID string, syncTimestamp int64) Document {
	return Document{
		DocumentID:    GenerateDocumentID(aggregatorID, record.OwnerUserID, record.Timestamp),
		ChildID:       record.OwnerUserID,
		AggregatorID:  aggregatorID,
		DeviceAddress: record.DeviceAddress,
		Timestamp:     record.Timestamp,
		ReceivedMsg:   record.ReceivedMsg,
		SyncTimestamp: syncTimestamp,
	}
}
