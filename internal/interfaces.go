package internal

import "context"

// InfoExtractor resolves a URL into media information or a plain resource,
// and re-derives a direct URL when a previous one has expired (§6).
type InfoExtractor interface {
	// Extract returns a MediaInfo describing every selectable format. Plain
	// HTTP resources are represented as a MediaInfo with a single
	// ProtocolPlain format whose URL is the resource itself.
	Extract(ctx context.Context, url string) (*MediaInfo, error)
	// Refresh re-derives a direct URL for a resource whose previous direct
	// URL has expired (signed URLs, streaming CDNs). Same shape as Extract.
	Refresh(ctx context.Context, originalURL string) (*MediaInfo, error)
}

// MediaMuxer is the invocation contract for an external media tool; this
// core specifies the contract only, not the muxer's internals (§6).
type MediaMuxer interface {
	Merge(ctx context.Context, videoPath, audioPath, outPath string) error
	MuxHLS(ctx context.Context, segmentsListFile, outPath string) error
	Tag(ctx context.Context, file string, meta MuxTags) error
}

// MuxTags carries the metadata fields accepted by MediaMuxer.Tag.
type MuxTags struct {
	Title         string
	Artist        string
	Description   string
	ThumbnailPath string
}

// Observer receives a push feed of job lifecycle events (§6). The Brain
// takes one Observer; several can be combined through observer.Broadcaster,
// which fans each event out to all of them.
type Observer interface {
	OnState(jobID string, oldStatus, newStatus JobStatus)
	OnProgress(jobID string, downloadedBytes, totalBytes int64, rateBytesPerSec, etaSeconds float64)
	OnError(jobID string, kind ErrorKind, humanMessage string)
}

// RateLimiter controls aggregate and per-job bandwidth (§4.4).
type RateLimiter interface {
	Acquire(ctx context.Context, jobID string, n int64) error
	SetGlobalRate(bytesPerSecond int64)
	SetJobRate(jobID string, bytesPerSecond int64)
	ForgetJob(jobID string)
}
