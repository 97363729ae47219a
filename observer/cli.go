package observer

import (
	"fmt"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"

	"idm/internal"
)

// CLIObserver renders one progress bar per active job, generalizing the
// teacher's single-download ProgressTracker to a multi-job pool.
type CLIObserver struct {
	mu    sync.Mutex
	bars  map[string]*pb.ProgressBar
	quiet bool
}

// NewCLIObserver constructs a CLIObserver; in quiet mode it draws no
// progress bars and prints every state transition as a line instead.
func NewCLIObserver(quiet bool) *CLIObserver {
	return &CLIObserver{bars: make(map[string]*pb.ProgressBar), quiet: quiet}
}

func (c *CLIObserver) OnState(jobID string, oldStatus, newStatus internal.JobStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if newStatus.Terminal() {
		if bar, ok := c.bars[jobID]; ok {
			bar.Finish()
			delete(c.bars, jobID)
		}
		if c.quiet || newStatus != internal.StatusCompleted {
			fmt.Printf("[%s] %s -> %s\n", jobID, oldStatus, newStatus)
		}
		return
	}

	if c.quiet {
		fmt.Printf("[%s] %s -> %s\n", jobID, oldStatus, newStatus)
	}
}

func (c *CLIObserver) OnProgress(jobID string, downloadedBytes, totalBytes int64, rateBytesPerSec, etaSeconds float64) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	bar, ok := c.bars[jobID]
	if !ok {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`
		bar = pb.ProgressBarTemplate(tmpl).Start64(totalBytes)
		bar.Set(pb.Bytes, true)
		bar.Set(pb.SIBytesPrefix, true)
		bar.Set("prefix", jobID+" ")
		c.bars[jobID] = bar
	}
	bar.SetCurrent(downloadedBytes)
	bar.Set("speed", humanize.Bytes(uint64(rateBytesPerSec))+"/s")
}

func (c *CLIObserver) OnError(jobID string, kind internal.ErrorKind, humanMessage string) {
	fmt.Printf("[%s] error (%s): %s\n", jobID, kind.String(), humanMessage)
}

var _ internal.Observer = (*CLIObserver)(nil)
