package brain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"idm/assembler"
	"idm/internal"
	"idm/probe"
	"idm/store"
	"idm/transport"
	"idm/worker"
)

// startJob spawns up to min(max_connections, segment_count) workers for a
// queued job and transitions it to Running (§4.9).
func (b *Brain) startJob(ctx context.Context, jobID string) {
	entry, ok := b.entry(jobID)
	if !ok {
		return
	}
	job := entry.job

	jobCtx, cancel := context.WithCancel(ctx)
	entry.cancel = cancel
	entry.pausedCh = make(chan struct{})

	b.transition(job, internal.StatusRunning)

	pool := worker.New(b.transport, b.limiter, backoffFromConfig(b.cfg), b.media)

	idle := idleSegments(job)
	n := job.MaxConnections
	if n > len(idle) {
		n = len(idle)
	}
	if n < 1 {
		n = 1
	}

	workCh := make(chan *internal.Segment, len(idle))
	for _, seg := range idle {
		workCh <- seg
	}
	close(workCh)

	var completed int32
	total := int32(len(job.Segments))

	for i := 0; i < n; i++ {
		entry.wg.Add(1)
		go func() {
			defer entry.wg.Done()
			for seg := range workCh {
				select {
				case <-jobCtx.Done():
					return
				default:
				}

				task := worker.Task{Job: job, Segment: seg, Store: entry.store}
				err := pool.Run(jobCtx, task)

				if err != nil {
					if jobCtx.Err() != nil {
						return
					}
					b.handleSegmentFailure(jobCtx, job, entry, seg, err)
					return
				}

				entry.store.PersistManifest(job)
				if b.observer != nil {
					rate, eta := job.RateEWMA, job.ETASeconds
					b.observer.OnProgress(job.ID, job.DownloadedBytes, job.TotalSize, rate, eta)
				}
				atomic.AddInt32(&completed, 1)
			}
		}()
	}

	go func() {
		entry.wg.Wait()
		select {
		case <-jobCtx.Done():
			return
		default:
		}
		if atomic.LoadInt32(&completed) == total {
			b.finishJob(ctx, jobID)
		}
	}()
}

func idleSegments(job *internal.Job) []*internal.Segment {
	var out []*internal.Segment
	for _, s := range job.Segments {
		if s.State != internal.SegmentDone {
			out = append(out, s)
		}
	}
	return out
}

func backoffFromConfig(cfg *internal.Config) transport.BackoffConfig {
	return transport.BackoffConfig{
		Base:        cfg.BackoffBase,
		Cap:         cfg.BackoffCap,
		Jitter:      cfg.BackoffJitter,
		MaxAttempts: cfg.MaxWorkerRetries,
	}
}

// finishJob runs the Assembler (or, for media jobs, the VideoPipeline mux
// step instead) once every segment is Done, then marks the job Completed.
func (b *Brain) finishJob(ctx context.Context, jobID string) {
	entry, ok := b.entry(jobID)
	if !ok {
		return
	}
	job := entry.job

	if job.Media != nil {
		b.transition(job, internal.StatusMerging)
		if err := b.muxMedia(ctx, job, entry.store); err != nil {
			b.failErr(job, err)
			return
		}
	} else {
		if err := assembler.Assemble(job, entry.store); err != nil {
			b.failErr(job, err)
			return
		}
	}

	if job.Media != nil && job.Media.WriteMetadata && b.muxer != nil {
		tags := internal.MuxTags{Title: job.ServerFilename}
		if err := b.muxer.Tag(ctx, job.FinalPath, tags); err != nil {
			b.failErr(job, err)
			return
		}
	}

	b.transition(job, internal.StatusCompleted)
	b.releaseSlot(jobID)
	b.limiter.ForgetJob(jobID)
	b.admit(ctx)
}

// muxMedia builds an ffconcat list of a media job's downloaded fragments and
// remuxes them into job.FinalPath via the configured MediaMuxer, the §4.8
// mux step that plain (non-media) jobs skip in favor of Assemble.
func (b *Brain) muxMedia(ctx context.Context, job *internal.Job, st *store.Store) error {
	if b.muxer == nil {
		return internal.NewMuxFailedError("no media muxer configured")
	}

	segs := append([]*internal.Segment(nil), job.Segments...)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })

	listPath := filepath.Join(job.TempDir, "concat.txt")
	var sb strings.Builder
	for _, seg := range segs {
		if seg.State != internal.SegmentDone {
			return internal.NewEngineError(internal.ErrInternal, fmt.Sprintf("fragment %d not done", seg.Index))
		}
		fmt.Fprintf(&sb, "file '%s'\n", st.SegmentPath(seg.Index))
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return internal.NewEngineError(internal.ErrWritePermission, err.Error())
	}

	finalPath, err := assembler.PrepareFinalPath(job.FinalPath, job.Collision)
	if err != nil {
		return err
	}

	if err := b.muxer.MuxHLS(ctx, listPath, finalPath); err != nil {
		return err
	}
	job.FinalPath = finalPath
	return st.Finalize()
}

// handleSegmentFailure implements the refresh policy and failure
// escalation of §4.9/§7: RangeRejected/TransportFatal on a resumable job
// triggers one refresh attempt before failing; otherwise a resumable job
// is requeued with cooldown, capped at 3 re-admissions per hour.
func (b *Brain) handleSegmentFailure(ctx context.Context, job *internal.Job, entry *jobEntry, seg *internal.Segment, err error) {
	ee, _ := err.(*internal.EngineError)

	if ee != nil && (ee.Kind == internal.ErrRangeRejected || ee.Kind == internal.ErrTransportFatal) && job.Resumable {
		if b.tryRefresh(ctx, job) {
			b.mu.Lock()
			b.ready = append(b.ready, job.ID)
			b.mu.Unlock()
			b.releaseSlot(job.ID)
			b.transition(job, internal.StatusQueued)
			b.admit(ctx)
			return
		}
		// tryRefresh has already failed the job.
		return
	}

	if job.Resumable && b.canRequeue(job) {
		b.requeueWithCooldown(ctx, job)
		return
	}

	kind := internal.ErrInternal
	msg := err.Error()
	if ee != nil {
		kind = ee.Kind
		msg = ee.Message
	}
	b.fail(job, kind, msg)
}

func (b *Brain) tryRefresh(ctx context.Context, job *internal.Job) bool {
	b.transition(job, internal.StatusRefreshing)

	prevSize, prevETag := job.TotalSize, job.ETag

	info, err := b.extractor.Refresh(ctx, job.URL)
	if err != nil {
		b.fail(job, internal.ErrRefreshFailed, err.Error())
		return false
	}
	format := selectFormat(info)
	if format == nil {
		b.fail(job, internal.ErrRefreshFailed, "refresh returned no usable format")
		return false
	}
	job.EffectiveURL = format.URL

	p := probe.New(b.transport)
	result, err := p.Discover(ctx, job.EffectiveURL, job.EffectiveHeaders())
	if err != nil {
		b.fail(job, internal.ErrRefreshFailed, err.Error())
		return false
	}

	if prevSize >= 0 && result.TotalSize != prevSize {
		b.fail(job, internal.ErrContentChanged, fmt.Sprintf("size changed on refresh: %d -> %d", prevSize, result.TotalSize))
		return false
	}
	if prevETag != "" && result.ETag != "" && result.ETag != prevETag {
		b.fail(job, internal.ErrContentChanged, "etag changed on refresh")
		return false
	}

	return true
}

func (b *Brain) canRequeue(job *internal.Job) bool {
	now := time.Now()
	if job.RequeueWindowStart.IsZero() || now.Sub(job.RequeueWindowStart) > requeueWindow {
		job.RequeueWindowStart = now
		job.RequeueCount = 0
	}
	return job.RequeueCount < maxRequeuesPerHour
}

func (b *Brain) requeueWithCooldown(ctx context.Context, job *internal.Job) {
	job.RequeueCount++
	b.releaseSlot(job.ID)
	b.transition(job, internal.StatusQueued)

	go func() {
		select {
		case <-time.After(requeueCooldown):
		case <-ctx.Done():
			return
		}
		b.mu.Lock()
		b.ready = append(b.ready, job.ID)
		b.mu.Unlock()
		b.admit(ctx)
	}()
}

// Start transitions a Pending or Paused job to Queued (§6 control surface).
func (b *Brain) Start(ctx context.Context, jobID string) error {
	entry, ok := b.entry(jobID)
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}
	status := entry.job.GetStatus()
	if status != internal.StatusPending && status != internal.StatusPaused {
		return fmt.Errorf("job %s cannot be started from state %s", jobID, status)
	}
	b.transition(entry.job, internal.StatusQueued)
	b.mu.Lock()
	b.ready = append(b.ready, jobID)
	b.mu.Unlock()
	b.admit(ctx)
	return nil
}

// Pause marks a Running job Paused, signals its workers to stop after
// their current chunk, persists the manifest, and releases its slot
// (§4.9).
func (b *Brain) Pause(jobID string) error {
	entry, ok := b.entry(jobID)
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}
	if entry.job.GetStatus() != internal.StatusRunning {
		return fmt.Errorf("job %s is not running", jobID)
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	entry.wg.Wait()
	entry.store.PersistManifest(entry.job)
	b.transition(entry.job, internal.StatusPaused)
	b.releaseSlot(jobID)
	return nil
}

// Cancel signals workers to abort immediately and transitions the job to
// Cancelled from any non-terminal state (§6 control surface).
func (b *Brain) Cancel(jobID string) error {
	entry, ok := b.entry(jobID)
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}
	if entry.job.GetStatus().Terminal() {
		return nil
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	entry.wg.Wait()
	b.transition(entry.job, internal.StatusCancelled)
	b.releaseSlot(jobID)
	b.limiter.ForgetJob(jobID)
	return nil
}

// Remove drops a job from the registry, optionally deleting its temp dir
// and final file (§6 control surface).
func (b *Brain) Remove(jobID string, deleteFiles bool) error {
	entry, ok := b.entry(jobID)
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}
	if !entry.job.GetStatus().Terminal() {
		if err := b.Cancel(jobID); err != nil {
			return err
		}
	}

	if deleteFiles {
		os.RemoveAll(entry.job.TempDir)
		os.Remove(entry.job.FinalPath)
	}

	b.mu.Lock()
	delete(b.jobs, jobID)
	b.mu.Unlock()
	return nil
}
