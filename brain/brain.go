// Package brain implements the Brain/Scheduler (§4.9): admission control
// over a bounded pool of active jobs, per-job worker sizing, the refresh
// policy for expired URLs, and pause/cancel dispatch. It is the component
// that owns Job.Status; every other component only reads it or reports
// outcomes back through events.
package brain

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"idm/internal"
	"idm/probe"
	"idm/ratelimit"
	"idm/store"
	"idm/transport"
	"idm/video"
)

const (
	requeueCooldown    = 60 * time.Second
	requeueWindow      = time.Hour
	maxRequeuesPerHour = 3
)

// Brain is the engine's single scheduler. One Brain owns one working
// directory; all jobs persist their manifests under it.
type Brain struct {
	cfg       *internal.Config
	workDir   string
	transport *transport.Transport
	limiter   *ratelimit.Limiter
	observer  internal.Observer
	extractor internal.InfoExtractor
	muxer     internal.MediaMuxer
	media     *video.Pipeline

	mu       sync.Mutex
	jobs     map[string]*jobEntry
	ready    []string // FIFO of job IDs waiting for a slot
	active   map[string]bool
	maxSlots int32
}

type jobEntry struct {
	job      *internal.Job
	store    *store.Store
	cancel   context.CancelFunc
	pausedCh chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Brain. workDir is the root under which each job gets its
// own temp subdirectory (named after its job ID).
func New(cfg *internal.Config, workDir string, t *transport.Transport, limiter *ratelimit.Limiter, obs internal.Observer, extractor internal.InfoExtractor, muxer internal.MediaMuxer) *Brain {
	return &Brain{
		cfg:       cfg,
		workDir:   workDir,
		transport: t,
		limiter:   limiter,
		observer:  obs,
		extractor: extractor,
		muxer:     muxer,
		media:     video.New(t),
		jobs:      make(map[string]*jobEntry),
		active:    make(map[string]bool),
		maxSlots:  int32(cfg.MaxConcurrentJobs),
	}
}

// Restore enumerates persisted manifests under workDir and re-registers any
// job not already Completed: resumable jobs go back to Queued, others to
// Error (§4.9 startup).
func (b *Brain) Restore(ctx context.Context) error {
	dirs, err := store.EnumerateManifests(b.workDir)
	if err != nil {
		return fmt.Errorf("enumerate manifests: %w", err)
	}

	for _, dir := range dirs {
		job, err := store.LoadManifest(dir)
		if err != nil {
			continue
		}
		if job.Status == internal.StatusCompleted {
			continue
		}

		st, err := store.New(dir)
		if err != nil {
			continue
		}

		b.mu.Lock()
		b.jobs[job.ID] = &jobEntry{job: job, store: st}
		if job.Resumable {
			job.SetStatus(internal.StatusQueued)
			b.ready = append(b.ready, job.ID)
		} else {
			job.SetStatus(internal.StatusError)
			job.LastError = &internal.LastError{Kind: internal.ErrManifestCorrupt, Message: "not resumable at restart"}
		}
		b.mu.Unlock()
	}

	b.admit(ctx)
	return nil
}

// Submit registers a new job from spec and queues it for probing (§6
// control surface).
func (b *Brain) Submit(ctx context.Context, spec internal.DownloadSpec) (string, error) {
	id := uuid.NewString()
	job := internal.NewJob(id, spec.URL)
	job.Headers = spec.Headers
	job.Proxy = spec.Proxy
	job.Cookies = spec.Cookies
	job.Referer = spec.Referer
	job.BasicAuthUser = spec.BasicAuthUser
	job.BasicAuthPass = spec.BasicAuthPass
	job.SpeedLimit = spec.SpeedLimit
	if spec.Connections > 0 {
		job.MaxConnections = spec.Connections
	}

	folder := spec.Folder
	if folder == "" {
		folder = "."
	}
	filename := spec.Filename
	if filename == "" {
		filename = id
	}
	job.OutputFolder = folder
	job.FilenameExplicit = spec.Filename != ""
	job.FinalPath = filepath.Join(folder, filename)
	job.TempDir = filepath.Join(b.workDir, id)

	st, err := store.New(job.TempDir)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.jobs[id] = &jobEntry{job: job, store: st}
	b.mu.Unlock()

	if job.SpeedLimit > 0 {
		b.limiter.SetJobRate(id, job.SpeedLimit)
	}

	go b.probeAndQueue(ctx, id)
	return id, nil
}

func (b *Brain) probeAndQueue(ctx context.Context, jobID string) {
	entry, ok := b.entry(jobID)
	if !ok {
		return
	}
	job := entry.job
	b.transition(job, internal.StatusProbing)

	info, err := b.extractor.Extract(ctx, job.URL)
	if err != nil {
		b.fail(job, internal.ErrProbeFailed, err.Error())
		return
	}

	format := selectFormat(info)
	if format == nil {
		b.fail(job, internal.ErrProbeFailed, "no usable format found")
		return
	}

	job.EffectiveURL = format.URL

	switch format.Protocol {
	case internal.ProtocolHLS, internal.ProtocolDASH:
		if err := b.planMedia(ctx, job, format); err != nil {
			b.failErr(job, err)
			return
		}
	default:
		p := probe.New(b.transport)
		result, err := p.Discover(ctx, job.EffectiveURL, job.EffectiveHeaders())
		if err != nil {
			b.failErr(job, err)
			return
		}
		job.TotalSize = result.TotalSize
		job.Resumable = result.Resumable
		job.ServerFilename = result.ServerFilename
		job.ContentType = result.ContentType
		job.ETag = result.ETag
		job.LastModified = result.LastModified

		if !job.FilenameExplicit && result.ServerFilename != "" {
			job.FinalPath = filepath.Join(job.OutputFolder, result.ServerFilename)
		}

		conns := job.MaxConnections
		if !result.Resumable {
			conns = 1
		}
		segs := probe.PlanSegments(result.TotalSize, conns)
		job.Segments = toSegmentPtrs(segs)
	}

	entry.store.PersistManifest(job)
	b.transition(job, internal.StatusQueued)

	b.mu.Lock()
	b.ready = append(b.ready, jobID)
	b.mu.Unlock()

	b.admit(ctx)
}

func (b *Brain) planMedia(ctx context.Context, job *internal.Job, format *internal.Format) error {
	body, mediaURL, err := b.media.ResolvePlaylist(ctx, format.URL, job.EffectiveHeaders())
	if err != nil {
		return err
	}
	segs, err := b.media.BuildSegments(ctx, body, mediaURL, job.EffectiveHeaders())
	if err != nil {
		return err
	}

	job.Segments = segs
	job.Resumable = true
	job.TotalSize = -1
	job.Media = &internal.MediaPlan{Protocol: format.Protocol, VideoFormat: format}
	return nil
}

func selectFormat(info *internal.MediaInfo) *internal.Format {
	if len(info.Formats) == 0 {
		return nil
	}
	best := &info.Formats[0]
	for i := range info.Formats {
		if info.Formats[i].Height > best.Height {
			best = &info.Formats[i]
		}
	}
	return best
}

func toSegmentPtrs(segs []internal.Segment) []*internal.Segment {
	out := make([]*internal.Segment, len(segs))
	for i := range segs {
		out[i] = &segs[i]
	}
	return out
}

// admit moves ready jobs into the active set while slots remain free.
// Admission never preempts a Running job (§4.9).
func (b *Brain) admit(ctx context.Context) {
	b.mu.Lock()
	var toStart []string
	for len(b.ready) > 0 && int32(len(b.active)) < b.maxSlots {
		id := b.ready[0]
		b.ready = b.ready[1:]
		b.active[id] = true
		toStart = append(toStart, id)
	}
	b.mu.Unlock()

	for _, id := range toStart {
		b.startJob(ctx, id)
	}
}

func (b *Brain) entry(jobID string) (*jobEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.jobs[jobID]
	return e, ok
}

func (b *Brain) transition(job *internal.Job, newStatus internal.JobStatus) {
	old := job.GetStatus()
	job.SetStatus(newStatus)
	if b.observer != nil {
		b.observer.OnState(job.ID, old, newStatus)
	}
}

func (b *Brain) fail(job *internal.Job, kind internal.ErrorKind, msg string) {
	job.LastError = &internal.LastError{Kind: kind, Message: msg}
	b.transition(job, internal.StatusError)
	if b.observer != nil {
		b.observer.OnError(job.ID, kind, msg)
	}
	b.releaseSlot(job.ID)
}

func (b *Brain) failErr(job *internal.Job, err error) {
	if ee, ok := err.(*internal.EngineError); ok {
		b.fail(job, ee.Kind, ee.Message)
		return
	}
	b.fail(job, internal.ErrInternal, err.Error())
}

func (b *Brain) releaseSlot(jobID string) {
	b.mu.Lock()
	delete(b.active, jobID)
	b.mu.Unlock()
}

// List returns a snapshot of every known job (§6 control surface).
func (b *Brain) List() []internal.Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]internal.Job, 0, len(b.jobs))
	for _, e := range b.jobs {
		out = append(out, e.job.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetGlobalSpeedLimit applies a new aggregate bandwidth ceiling immediately
// (§6 control surface).
func (b *Brain) SetGlobalSpeedLimit(bytesPerSecond int64) {
	b.limiter.SetGlobalRate(bytesPerSecond)
}

// SetMaxConcurrent updates the active-slot ceiling; it takes effect on the
// next admission cycle (§6 control surface).
func (b *Brain) SetMaxConcurrent(n int) {
	b.mu.Lock()
	b.maxSlots = int32(n)
	b.mu.Unlock()
}
