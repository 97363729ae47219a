package observer

import (
	"testing"

	"idm/internal"
)

type recordingObserver struct {
	states    int
	progress  int
	errors    int
	lastState internal.JobStatus
}

func (r *recordingObserver) OnState(jobID string, oldStatus, newStatus internal.JobStatus) {
	r.states++
	r.lastState = newStatus
}
func (r *recordingObserver) OnProgress(jobID string, downloadedBytes, totalBytes int64, rate, eta float64) {
	r.progress++
}
func (r *recordingObserver) OnError(jobID string, kind internal.ErrorKind, humanMessage string) {
	r.errors++
}

func TestBroadcaster_FansOutToAllSubscribers(t *testing.T) {
	b := New()
	a := &recordingObserver{}
	c := &recordingObserver{}
	b.Register(a)
	b.Register(c)

	b.OnState("job-1", internal.StatusQueued, internal.StatusRunning)
	b.OnProgress("job-1", 10, 100, 1.5, 60)
	b.OnError("job-1", internal.ErrTransportFatal, "boom")

	for _, r := range []*recordingObserver{a, c} {
		if r.states != 1 || r.progress != 1 || r.errors != 1 {
			t.Errorf("subscriber did not receive all events: %+v", r)
		}
		if r.lastState != internal.StatusRunning {
			t.Errorf("lastState = %v, want StatusRunning", r.lastState)
		}
	}
}

func TestBroadcaster_NoSubscribersIsNoop(t *testing.T) {
	b := New()
	b.OnState("job-1", internal.StatusQueued, internal.StatusRunning)
	b.OnProgress("job-1", 1, 1, 1, 1)
	b.OnError("job-1", internal.ErrInternal, "x")
}
