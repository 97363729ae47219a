// Package probe implements Probe (§4.6): discovering a resource's size,
// resumability, filename and segmentation before a Job starts downloading.
package probe

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"idm/internal"
	"idm/transport"
)

const (
	// MinSegmentSize is the smallest segment Probe will create (§4.6).
	MinSegmentSize = 1 << 20 // 1MiB
	// MaxConnections caps the number of segments regardless of size.
	MaxConnections = 32
)

// Result is what Probe learns about a resource.
type Result struct {
	EffectiveURL   string
	TotalSize      int64 // -1 if unknown
	Resumable      bool
	ServerFilename string
	ContentType    string
	ETag           string
	LastModified   string
}

// Probe performs HEAD-then-fallback-ranged-GET discovery (§4.6).
type Probe struct {
	t *transport.Transport
}

// New constructs a Probe over the given transport.
func New(t *transport.Transport) *Probe {
	return &Probe{t: t}
}

// Discover probes rawURL, returning size/resumability/filename metadata.
func (p *Probe) Discover(ctx context.Context, rawURL string, headers map[string]string) (*Result, error) {
	resp, err := p.t.Head(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent {
		return resultFromHeaders(rawURL, resp), nil
	}

	// Some servers reject HEAD; fall back to a 1-byte ranged GET (§4.6).
	fallback, err := p.t.RangeRequest(ctx, rawURL, 0, 1, headers)
	if err != nil {
		return nil, internal.NewEngineError(internal.ErrProbeFailed, fmt.Sprintf("probe failed: HEAD status %d, ranged GET error %v", resp.StatusCode, err))
	}
	defer fallback.Body.Close()
	return resultFromHeaders(rawURL, fallback), nil
}

func resultFromHeaders(rawURL string, resp *http.Response) *Result {
	r := &Result{
		EffectiveURL: resp.Request.URL.String(),
		TotalSize:    -1,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if r.EffectiveURL == "" {
		r.EffectiveURL = rawURL
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if total, ok := parseContentRangeTotal(cr); ok {
			r.TotalSize = total
		}
	} else if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			r.TotalSize = n
		}
	}

	r.Resumable = resp.StatusCode == http.StatusPartialContent ||
		strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")

	r.ServerFilename = filenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	if r.ServerFilename == "" {
		r.ServerFilename = path.Base(r.EffectiveURL)
	}

	return r
}

func parseContentRangeTotal(cr string) (int64, bool) {
	// Format: "bytes start-end/total"
	idx := strings.LastIndex(cr, "/")
	if idx == -1 || idx == len(cr)-1 {
		return 0, false
	}
	totalStr := cr[idx+1:]
	if totalStr == "*" {
		return 0, false
	}
	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

func filenameFromContentDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename*"]; ok {
		if idx := strings.LastIndex(fn, "''"); idx != -1 {
			return fn[idx+2:]
		}
		return fn
	}
	return params["filename"]
}

// PlanSegments builds the initial segment layout for a resumable resource
// of totalSize bytes, honoring maxConnections and MinSegmentSize (§4.6,
// mirrors the teacher's CalculateSegments).
func PlanSegments(totalSize int64, maxConnections int) []internal.Segment {
	if totalSize <= 0 {
		return []internal.Segment{{Index: 0, Start: 0, End: 0}}
	}
	if maxConnections <= 0 {
		maxConnections = 1
	}
	if maxConnections > MaxConnections {
		maxConnections = MaxConnections
	}

	if totalSize < MinSegmentSize {
		return []internal.Segment{{Index: 0, Start: 0, End: totalSize}}
	}

	threads := maxConnections
	segSize := totalSize / int64(threads)
	if segSize < MinSegmentSize {
		threads = int(totalSize / MinSegmentSize)
		if threads == 0 {
			threads = 1
		}
		segSize = totalSize / int64(threads)
	}

	segments := make([]internal.Segment, 0, threads)
	for i := 0; i < threads; i++ {
		start := int64(i) * segSize
		end := start + segSize
		if i == threads-1 {
			end = totalSize
		}
		segments = append(segments, internal.Segment{Index: i, Start: start, End: end})
	}
	return segments
}
