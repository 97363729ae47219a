package cmd

import (
	"context"

	"idm/brain"
	"idm/internal"
)

// schedulerAdapter satisfies controlplane.Scheduler by binding a background
// context to *brain.Brain's context-taking methods. The control plane's
// HTTP handlers have no natural caller context of their own.
type schedulerAdapter struct {
	b *brain.Brain
}

func newSchedulerAdapter(b *brain.Brain) *schedulerAdapter {
	return &schedulerAdapter{b: b}
}

func (s *schedulerAdapter) List() []internal.Job { return s.b.List() }

func (s *schedulerAdapter) Start(jobID string) error {
	return s.b.Start(context.Background(), jobID)
}

func (s *schedulerAdapter) Pause(jobID string) error  { return s.b.Pause(jobID) }
func (s *schedulerAdapter) Cancel(jobID string) error { return s.b.Cancel(jobID) }

func (s *schedulerAdapter) Remove(jobID string, deleteFiles bool) error {
	return s.b.Remove(jobID, deleteFiles)
}

func (s *schedulerAdapter) SetGlobalSpeedLimit(bytesPerSecond int64) {
	s.b.SetGlobalSpeedLimit(bytesPerSecond)
}

func (s *schedulerAdapter) SetMaxConcurrent(n int) {
	s.b.SetMaxConcurrent(n)
}

func (s *schedulerAdapter) SubmitSpec(spec internal.DownloadSpec) (string, error) {
	return s.b.Submit(context.Background(), spec)
}
