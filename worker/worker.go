// Package worker implements Worker (§4.3): the goroutine that downloads one
// Segment of one Job, retrying transient failures with backoff and
// reporting byte counts through the job's own accounting.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"idm/internal"
	"idm/store"
	"idm/transport"
	"idm/video"
)

// Pool holds what every segment download shares (transport, rate limiter,
// backoff policy, media pipeline). It starts no goroutines itself: the
// Brain's per-job worker goroutines pull segments off a channel and call
// Run for each, generalizing the teacher's WorkerPool/processJob/
// downloadSegment pipeline to run across many jobs rather than one.
type Pool struct {
	t       *transport.Transport
	limiter internal.RateLimiter
	backoff transport.BackoffConfig
	media   *video.Pipeline
}

// New constructs a worker Pool. media may be nil for engines that never
// serve HLS/DASH jobs; Pool falls back to an error if a fragment segment
// reaches it in that case.
func New(t *transport.Transport, limiter internal.RateLimiter, backoff transport.BackoffConfig, media *video.Pipeline) *Pool {
	return &Pool{t: t, limiter: limiter, backoff: backoff, media: media}
}

// Task is one segment download assignment.
type Task struct {
	Job     *internal.Job
	Segment *internal.Segment
	Store   *store.Store
}

// Run downloads one segment to completion or returns a terminal error,
// retrying recoverable failures with the configured backoff (§4.3). It
// updates the segment and job byte counters directly; the caller (Brain)
// is responsible for status transitions.
func (p *Pool) Run(ctx context.Context, task Task) error {
	seg := task.Segment
	job := task.Job

	var lastErr error
	for attempt := 0; attempt < p.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.backoff.Delay(attempt)):
			case <-ctx.Done():
				return internal.NewEngineError(internal.ErrCancelled, "worker cancelled during backoff")
			}
		}

		seg.Attempts = attempt + 1
		seg.State = internal.SegmentDownloading

		err := p.downloadOnce(ctx, job, seg, task.Store)
		if err == nil {
			seg.State = internal.SegmentDone
			return nil
		}

		lastErr = err
		engErr, ok := err.(*internal.EngineError)
		if !ok || !engErr.Retryable() {
			seg.State = internal.SegmentFailed
			return err
		}
	}

	seg.State = internal.SegmentFailed
	return fmt.Errorf("segment %d failed after %d attempts: %w", seg.Index, p.backoff.MaxAttempts, lastErr)
}

func (p *Pool) downloadOnce(ctx context.Context, job *internal.Job, seg *internal.Segment, st *store.Store) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = internal.NewEngineError(internal.ErrInternal, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	if seg.SourceURL != "" {
		return p.downloadFragment(ctx, job, seg, st)
	}

	f, ferr := st.OpenSegment(seg.Index, seg.RangeLength())
	if ferr != nil {
		return internal.NewEngineError(internal.ErrWritePermission, ferr.Error())
	}
	defer f.Close()

	resumeFrom := seg.BytesWritten
	if _, serr := f.Seek(resumeFrom, io.SeekStart); serr != nil {
		return internal.NewEngineError(internal.ErrWritePermission, serr.Error())
	}

	resp, err := p.t.RangeRequest(ctx, job.EffectiveURL, seg.Start+resumeFrom, seg.End, job.EffectiveHeaders())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	written, err := p.copyWithRateLimit(ctx, job, f, resp.Body)
	seg.BytesWritten += written
	job.AddDownloadedBytes(written)
	if err != nil {
		return err
	}
	return nil
}

// downloadFragment fetches one HLS/DASH fragment through the video
// pipeline (decrypting it if the playlist carried an AES-128 key) instead
// of the plain range-request path, since a fragment has no byte range on
// the origin server to resume within (§4.8).
func (p *Pool) downloadFragment(ctx context.Context, job *internal.Job, seg *internal.Segment, st *store.Store) error {
	if p.media == nil {
		return internal.NewEngineError(internal.ErrInternal, "no media pipeline configured for fragment segment")
	}
	dest := st.SegmentPath(seg.Index)
	if err := p.media.FetchFragment(ctx, seg, job.EffectiveHeaders(), dest); err != nil {
		return err
	}
	info, serr := os.Stat(dest)
	if serr != nil {
		return internal.NewEngineError(internal.ErrWritePermission, serr.Error())
	}
	delta := info.Size() - seg.BytesWritten
	seg.BytesWritten = info.Size()
	job.AddDownloadedBytes(delta)
	return nil
}

const copyBufferSize = 32 * 1024

func (p *Pool) copyWithRateLimit(ctx context.Context, job *internal.Job, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, internal.NewEngineError(internal.ErrCancelled, "cancelled mid-segment")
		default:
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if p.limiter != nil {
				if lerr := p.limiter.Acquire(ctx, job.ID, int64(n)); lerr != nil {
					return total, lerr
				}
			}
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, internal.NewEngineError(internal.ErrDiskFull, werr.Error())
			}
			if w != n {
				return total, internal.NewEngineError(internal.ErrDiskFull, "short write")
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			if os.IsTimeout(rerr) {
				return total, internal.NewTransportError(internal.ErrTransportRetryable, 0, rerr.Error())
			}
			return total, internal.NewTransportError(internal.ErrTransportRetryable, 0, rerr.Error())
		}
	}
}
