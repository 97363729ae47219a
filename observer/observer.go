// Package observer implements a fan-out internal.Observer: the Brain
// broadcasts each job event to every registered subscriber, generalizing
// the teacher's single progress-tracker callback into an N-subscriber
// broadcast (§6).
package observer

import "idm/internal"

// Broadcaster fans out job events to any number of registered observers.
type Broadcaster struct {
	subs []internal.Observer
}

// New constructs an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{}
}

// Register adds an observer. Not safe for concurrent registration with
// event delivery; register all observers before starting the Brain.
func (b *Broadcaster) Register(o internal.Observer) {
	b.subs = append(b.subs, o)
}

func (b *Broadcaster) OnState(jobID string, oldStatus, newStatus internal.JobStatus) {
	for _, s := range b.subs {
		s.OnState(jobID, oldStatus, newStatus)
	}
}

func (b *Broadcaster) OnProgress(jobID string, downloadedBytes, totalBytes int64, rateBytesPerSec, etaSeconds float64) {
	for _, s := range b.subs {
		s.OnProgress(jobID, downloadedBytes, totalBytes, rateBytesPerSec, etaSeconds)
	}
}

func (b *Broadcaster) OnError(jobID string, kind internal.ErrorKind, humanMessage string) {
	for _, s := range b.subs {
		s.OnError(jobID, kind, humanMessage)
	}
}

var _ internal.Observer = (*Broadcaster)(nil)
