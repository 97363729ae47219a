// Package store implements SegmentStore (§4.2): per-job manifest
// persistence and partial-segment files under a temp directory, finalized
// into the job's FinalPath via atomic rename.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"idm/internal"
)

// CurrentSchemaVersion is the manifest schema this build understands.
// A manifest with a higher version produces ErrSchemaFuture on load (§9).
const CurrentSchemaVersion = 1

const manifestName = "manifest.json"

// manifestDoc is the on-disk shape of manifest.json.
type manifestDoc struct {
	SchemaVersion int             `json:"schema_version"`
	Job           internal.Job    `json:"job"`
	SavedAt       time.Time       `json:"saved_at"`
}

// Store owns one job's temp directory: its manifest and segment files.
type Store struct {
	mu      sync.Mutex
	tempDir string
}

// New creates a Store rooted at tempDir, creating the directory if needed.
func New(tempDir string) (*Store, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Store{tempDir: tempDir}, nil
}

// SegmentPath returns the path of the part file for segment index i,
// following the teacher's ".part"-suffix convention generalized to one
// file per segment: part-000000, part-000001, ...
func (s *Store) SegmentPath(index int) string {
	return filepath.Join(s.tempDir, fmt.Sprintf("part-%06d", index))
}

// OpenSegment opens (creating if absent) the part file for segment index
// for reading and writing, pre-allocating rangeLength bytes when the file
// is shorter; the caller seeks to its resume offset.
func (s *Store) OpenSegment(index int, rangeLength int64) (*os.File, error) {
	path := s.SegmentPath(index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", index, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment %d: %w", index, err)
	}
	if info.Size() < rangeLength {
		if err := f.Truncate(rangeLength); err != nil {
			f.Close()
			return nil, fmt.Errorf("preallocate segment %d: %w", index, err)
		}
	}
	return f, nil
}

// PersistManifest atomically writes the job's current state to
// manifest.json (write to temp file, then rename) so a crash never leaves
// a half-written manifest (§4.2, §9).
func (s *Store) PersistManifest(job *internal.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := job.Snapshot()
	doc := manifestDoc{SchemaVersion: CurrentSchemaVersion, Job: snap, SavedAt: time.Now()}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	finalPath := filepath.Join(s.tempDir, manifestName)
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest tmp: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// LoadManifest reads and validates manifest.json under tempDir.
func LoadManifest(tempDir string) (*internal.Job, error) {
	path := filepath.Join(tempDir, manifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, internal.NewManifestCorruptError(path, err.Error())
	}

	if doc.SchemaVersion > CurrentSchemaVersion {
		return nil, internal.NewSchemaFutureError(doc.SchemaVersion, CurrentSchemaVersion)
	}

	job := doc.Job
	clampSegmentsToDisk(&job, tempDir)
	return &job, nil
}

// clampSegmentsToDisk reconciles each byte-range segment's recorded
// bytes_written against what's actually on disk, so a process killed
// mid-write never resumes believing it wrote more than it did (§4.2). A
// part file larger than its declared range is corrupt and discarded
// outright rather than trusted. HLS/DASH fragments are refetched whole on
// resume, so they're left untouched here.
func clampSegmentsToDisk(job *internal.Job, tempDir string) {
	s := &Store{tempDir: tempDir}
	for _, seg := range job.Segments {
		if seg.SourceURL != "" {
			continue
		}
		rangeLen := seg.RangeLength()
		var onDisk int64
		if info, err := os.Stat(s.SegmentPath(seg.Index)); err == nil {
			onDisk = info.Size()
		}
		if onDisk > rangeLen {
			onDisk = 0
		}
		if onDisk < seg.BytesWritten {
			seg.BytesWritten = onDisk
			if seg.State == internal.SegmentDone {
				seg.State = internal.SegmentIdle
			}
		}
	}
}

// EnumerateManifests scans root (the engine's working directory) for job
// temp directories containing a manifest.json, used by Brain at startup to
// rebuild its in-memory registry (§4.9 startup).
func EnumerateManifests(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(candidate, manifestName)); err == nil {
			dirs = append(dirs, candidate)
		}
	}
	return dirs, nil
}

// Finalize removes the store's temp directory (manifest and part files).
// It does not merge segments: Assembler produces finalPath (§4.7), and
// Finalize only disposes of the store's own bookkeeping afterwards.
func (s *Store) Finalize() error {
	return os.RemoveAll(s.tempDir)
}

// TempDir returns the store's working directory.
func (s *Store) TempDir() string {
	return s.tempDir
}
