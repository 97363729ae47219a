// Package ratelimit implements RateLimiter (§4.4): a global token bucket
// composed with optional per-job buckets, both backed by
// golang.org/x/time/rate rather than the teacher's hand-rolled bucket.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"idm/internal"
)

// unlimited is used as a burst/limit value meaning "no cap".
const unlimited = rate.Inf

// Limiter composes one global limiter with per-job limiters; Acquire waits
// on both so neither a job's own ceiling nor the aggregate ceiling is
// exceeded (§4.4).
type Limiter struct {
	mu     sync.RWMutex
	global *rate.Limiter
	jobs   map[string]*rate.Limiter
}

// New constructs a Limiter with the given global bytes/sec ceiling (0 means
// unlimited).
func New(globalBytesPerSecond int64) *Limiter {
	return &Limiter{
		global: newTokenLimiter(globalBytesPerSecond),
		jobs:   make(map[string]*rate.Limiter),
	}
}

func newTokenLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return rate.NewLimiter(unlimited, 0)
	}
	burst := int((bytesPerSecond + 3) / 4) // ceil(rate * 0.25)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Acquire blocks until n bytes' worth of budget is available from both the
// job's own limiter (if set) and the global limiter.
func (l *Limiter) Acquire(ctx context.Context, jobID string, n int64) error {
	if n <= 0 {
		return nil
	}

	l.mu.RLock()
	jobLimiter := l.jobs[jobID]
	global := l.global
	l.mu.RUnlock()

	if jobLimiter != nil {
		if err := waitN(ctx, jobLimiter, n); err != nil {
			return internal.NewEngineError(internal.ErrCancelled, fmt.Sprintf("rate limit wait cancelled: %v", err))
		}
	}
	if err := waitN(ctx, global, n); err != nil {
		return internal.NewEngineError(internal.ErrCancelled, fmt.Sprintf("rate limit wait cancelled: %v", err))
	}
	return nil
}

// waitN reserves n tokens, splitting across multiple Wait calls when n
// exceeds the limiter's burst (x/time/rate rejects a single WaitN request
// larger than its burst size).
func waitN(ctx context.Context, lim *rate.Limiter, n int64) error {
	if lim.Limit() == unlimited {
		return nil
	}
	burst := int64(lim.Burst())
	if burst <= 0 {
		burst = 1
	}
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := lim.WaitN(ctx, int(chunk)); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// SetGlobalRate updates the aggregate ceiling; 0 means unlimited.
func (l *Limiter) SetGlobalRate(bytesPerSecond int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bytesPerSecond <= 0 {
		l.global.SetLimit(unlimited)
		return
	}
	l.global.SetLimit(rate.Limit(bytesPerSecond))
	l.global.SetBurst(int((bytesPerSecond + 3) / 4))
}

// SetJobRate sets (or clears, with 0) a per-job ceiling.
func (l *Limiter) SetJobRate(jobID string, bytesPerSecond int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bytesPerSecond <= 0 {
		delete(l.jobs, jobID)
		return
	}
	l.jobs[jobID] = newTokenLimiter(bytesPerSecond)
}

// ForgetJob removes a job's per-job limiter once the job terminates.
func (l *Limiter) ForgetJob(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.jobs, jobID)
}

var _ internal.RateLimiter = (*Limiter)(nil)

// ParseRate parses human-readable rate strings ("5M", "1.5G", "512K") into
// bytes/second, matching the teacher's suffix grammar.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}

	upper := strings.ToUpper(s)
	var numStr, suffix string
	switch {
	case len(upper) >= 3 && (strings.HasSuffix(upper, "KB") || strings.HasSuffix(upper, "MB") || strings.HasSuffix(upper, "GB") || strings.HasSuffix(upper, "TB")):
		numStr, suffix = s[:len(s)-2], upper[len(upper)-2:]
	case len(upper) >= 2:
		numStr, suffix = s[:len(s)-1], upper[len(upper)-1:]
	default:
		return 0, fmt.Errorf("invalid rate format: %s", s)
	}

	base, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value in rate: %s", numStr)
	}
	if base < 0 {
		return 0, fmt.Errorf("rate cannot be negative: %f", base)
	}

	var mult int64
	switch suffix {
	case "B":
		mult = 1
	case "K", "KB":
		mult = 1024
	case "M", "MB":
		mult = 1024 * 1024
	case "G", "GB":
		mult = 1024 * 1024 * 1024
	case "T", "TB":
		mult = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unsupported rate suffix: %s", suffix)
	}
	return int64(base * float64(mult)), nil
}
