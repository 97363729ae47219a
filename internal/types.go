package internal

import (
	"net/http"
	"sync"
	"time"
)

// JobStatus is the per-job state machine (§4.5).
type JobStatus int

const (
	StatusPending JobStatus = iota
	StatusProbing
	StatusQueued
	StatusRunning
	StatusPaused
	StatusMerging
	StatusRefreshing
	StatusCompleted
	StatusError
	StatusCancelled
)

func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusProbing:
		return "Probing"
	case StatusQueued:
		return "Queued"
	case StatusRunning:
		return "Running"
	case StatusPaused:
		return "Paused"
	case StatusMerging:
		return "Merging"
	case StatusRefreshing:
		return "Refreshing"
	case StatusCompleted:
		return "Completed"
	case StatusError:
		return "Error"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status is one of the terminal states.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// SegmentState is the lifecycle of one Segment (§3).
type SegmentState int

const (
	SegmentIdle SegmentState = iota
	SegmentDownloading
	SegmentDone
	SegmentFailed
)

func (s SegmentState) String() string {
	switch s {
	case SegmentIdle:
		return "Idle"
	case SegmentDownloading:
		return "Downloading"
	case SegmentDone:
		return "Done"
	case SegmentFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// MediaProtocol is the closed variant replacing runtime string-switching on
// protocol names (§9 design note).
type MediaProtocol int

const (
	ProtocolPlain MediaProtocol = iota
	ProtocolHLS
	ProtocolDASH
	ProtocolFragmented
)

func (p MediaProtocol) String() string {
	switch p {
	case ProtocolHLS:
		return "hls"
	case ProtocolDASH:
		return "dash"
	case ProtocolFragmented:
		return "fragmented"
	default:
		return "plain"
	}
}

// Segment is a contiguous byte range of the target resource, or for HLS/DASH
// a single media fragment, downloaded as a unit (§3).
type Segment struct {
	Index        int          `json:"index"`
	Start        int64        `json:"start"`
	End          int64        `json:"end"` // exclusive
	State        SegmentState `json:"state"`
	BytesWritten int64        `json:"bytes_written"`
	Attempts     int          `json:"attempts"`
	Path         string       `json:"path"`

	// Populated for HLS/DASH fragments in place of [Start,End).
	SourceURL   string `json:"source_url,omitempty"`
	SequenceNum int    `json:"sequence_num,omitempty"`
	DecryptKey  []byte `json:"decrypt_key,omitempty"`
	IV          []byte `json:"iv,omitempty"`
}

// RangeLength returns the declared length of the segment's byte range.
func (s *Segment) RangeLength() int64 {
	return s.End - s.Start
}

// Fragment describes one HLS/DASH media fragment as reported by an
// InfoExtractor (§3 MediaInfo).
type Fragment struct {
	URL       string  `json:"url"`
	Duration  float64 `json:"duration"`
	ByteRange string  `json:"byte_range,omitempty"`
}

// Format is one selectable rendition of a MediaInfo (§3).
type Format struct {
	FormatID    string            `json:"format_id"`
	URL         string            `json:"url"`
	Protocol    MediaProtocol     `json:"protocol"`
	VCodec      string            `json:"vcodec,omitempty"`
	ACodec      string            `json:"acodec,omitempty"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
	ABR         float64           `json:"abr,omitempty"`
	VBR         float64           `json:"vbr,omitempty"`
	FileSize    int64             `json:"filesize,omitempty"`
	Fragments   []Fragment        `json:"fragments,omitempty"`
	HTTPHeaders map[string]string `json:"http_headers,omitempty"`
	DecryptKey  string            `json:"_decryption_key,omitempty"`
}

// MediaInfo is produced by an InfoExtractor (§6).
type MediaInfo struct {
	Title   string   `json:"title"`
	Ext     string   `json:"ext"`
	IsLive  bool     `json:"is_live"`
	Formats []Format `json:"formats"`
}

// MediaPlan records the VideoPipeline's decisions for a job: the selected
// video/audio formats and any subtitle tracks to fetch alongside.
type MediaPlan struct {
	Protocol      MediaProtocol `json:"protocol"`
	VideoFormat   *Format       `json:"video_format,omitempty"`
	AudioFormat   *Format       `json:"audio_format,omitempty"`
	Subtitles     []Format      `json:"subtitles,omitempty"`
	WriteMetadata bool          `json:"write_metadata"`
	AudioJobID    string        `json:"audio_job_id,omitempty"`
}

// ProxyDescriptor describes an outbound proxy (§6 wire protocol:
// http/https/socks4/socks5).
type ProxyDescriptor struct {
	Scheme   string `json:"scheme"` // http, https, socks4, socks5
	Host     string `json:"host"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// LastError is the (kind, http_status?, message) triple carried by a job
// (§7).
type LastError struct {
	Kind       ErrorKind `json:"kind"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Message    string    `json:"message"`
}

// DownloadSpec is the input to Brain.Submit (§6 control surface).
type DownloadSpec struct {
	URL           string
	Folder        string
	Filename      string
	Connections   int
	Headers       map[string]string
	Proxy         *ProxyDescriptor
	Cookies       []*http.Cookie
	Referer       string
	BasicAuthUser string
	BasicAuthPass string
	SpeedLimit    int64 // per-job ceiling, 0 = unlimited
}

// CollisionPolicy governs Assembler behavior when final_path already exists.
type CollisionPolicy int

const (
	CollisionOverwrite CollisionPolicy = iota
	CollisionRename
)

// Job is the aggregate state for one download request (§3). All mutation of
// Status goes through the scheduler; workers may only touch their own
// segment's BytesWritten/State and the job's byte counter (§5).
type Job struct {
	mu sync.Mutex

	ID string

	// Inputs
	URL           string
	Referer       string
	Cookies       []*http.Cookie
	BasicAuthUser string
	BasicAuthPass string
	Proxy         *ProxyDescriptor
	Headers       map[string]string

	// Discovered
	TotalSize      int64 // -1 means unknown
	Resumable      bool
	EffectiveURL   string
	ServerFilename string
	ContentType    string
	ETag           string
	LastModified   string

	// Target
	FinalPath        string
	TempDir          string
	OutputFolder     string // FinalPath's directory, kept so it can be recomputed once ServerFilename is known
	FilenameExplicit bool   // true when DownloadSpec.Filename was set, pinning FinalPath's name

	// Policy
	MaxConnections  int
	SegmentSizeHint int64
	SpeedLimit      int64
	Collision       CollisionPolicy

	// Runtime
	Status             JobStatus
	DownloadedBytes    int64
	RateEWMA           float64
	ETASeconds         float64
	LastError          *LastError
	CreatedAt          time.Time
	UpdatedAt          time.Time
	RefreshCount       int
	RequeueCount       int
	RequeueWindowStart time.Time

	Segments []*Segment
	Media    *MediaPlan
}

// NewJob constructs a Job in the Pending state.
func NewJob(id, url string) *Job {
	now := time.Now()
	return &Job{
		ID:              id,
		URL:             url,
		EffectiveURL:    url,
		TotalSize:       -1,
		Status:          StatusPending,
		MaxConnections:  4,
		SegmentSizeHint: 1 << 20,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// EffectiveHeaders merges Referer, Cookies, and basic auth into a copy of
// Headers so transport callers never need to special-case those fields.
func (j *Job) EffectiveHeaders() map[string]string {
	out := make(map[string]string, len(j.Headers)+3)
	for k, v := range j.Headers {
		out[k] = v
	}
	if j.Referer != "" {
		out["Referer"] = j.Referer
	}
	if len(j.Cookies) > 0 {
		req := &http.Request{Header: http.Header{}}
		for _, c := range j.Cookies {
			req.AddCookie(c)
		}
		out["Cookie"] = req.Header.Get("Cookie")
	}
	if j.BasicAuthUser != "" {
		req := &http.Request{Header: http.Header{}}
		req.SetBasicAuth(j.BasicAuthUser, j.BasicAuthPass)
		out["Authorization"] = req.Header.Get("Authorization")
	}
	return out
}

// WithLock runs fn while holding the job's internal mutex. Used by the
// registry/scheduler to serialize manifest persistence per job (§5).
func (j *Job) WithLock(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn()
}

// SetStatus transitions the job's status. Only the scheduler may call this.
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.UpdatedAt = time.Now()
}

// GetStatus reads the current status.
func (j *Job) GetStatus() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// AddDownloadedBytes atomically accumulates the job-level byte counter; it
// is called by workers after every chunk (§5 shared resources: job-level
// counter updated via atomic add).
func (j *Job) AddDownloadedBytes(n int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.DownloadedBytes += n
}

// Snapshot returns a shallow copy of the job suitable for Observer/list()
// consumption without holding the lock across caller code.
func (j *Job) Snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *j
	cp.Segments = make([]*Segment, len(j.Segments))
	copy(cp.Segments, j.Segments)
	return cp
}
