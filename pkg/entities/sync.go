package entities

// SyncCallback receives the outcome of an asynchronous upload.
// OnProgress is reported once per uploaded batch, OnSuccess once at the end.
type SyncCallback interface {
	OnSuccess(message string)
	OnError(err error)
	OnProgress(current, total int)
}
