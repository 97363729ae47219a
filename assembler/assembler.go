// Package assembler implements Assembler (§4.7): concatenating a job's
// completed segment files into the final output file, verifying size, and
// applying the collision policy before an atomic rename.
package assembler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"idm/internal"
	"idm/store"
)

// Assemble concatenates job's segments in index order into job.FinalPath,
// verifying the resulting size matches TotalSize, then disposes of the
// store's temp directory (§4.7).
func Assemble(job *internal.Job, st *store.Store) (err error) {
	segs := append([]*internal.Segment(nil), job.Segments...)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })

	finalPath, err := PrepareFinalPath(job.FinalPath, job.Collision)
	if err != nil {
		return err
	}

	tmpOut := finalPath + ".assembling"
	out, err := os.OpenFile(tmpOut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return internal.NewEngineError(internal.ErrWritePermission, err.Error())
	}
	closed := false
	defer func() {
		if !closed {
			out.Close()
		}
		if err != nil {
			os.Remove(tmpOut)
		}
	}()

	var total int64
	for _, seg := range segs {
		if seg.State != internal.SegmentDone {
			return internal.NewEngineError(internal.ErrInternal, fmt.Sprintf("segment %d not done", seg.Index))
		}
		n, werr := copySegment(out, st.SegmentPath(seg.Index))
		if werr != nil {
			return werr
		}
		total += n
	}

	if job.TotalSize >= 0 && total != job.TotalSize {
		return internal.NewContentChangedError(fmt.Sprintf("assembled %d bytes, expected %d", total, job.TotalSize))
	}

	if cerr := out.Close(); cerr != nil {
		return internal.NewEngineError(internal.ErrWritePermission, cerr.Error())
	}
	closed = true
	if err := os.Rename(tmpOut, finalPath); err != nil {
		return internal.NewEngineError(internal.ErrWritePermission, fmt.Sprintf("finalize rename: %v", err))
	}
	job.FinalPath = finalPath

	return st.Finalize()
}

func copySegment(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, internal.NewEngineError(internal.ErrManifestCorrupt, fmt.Sprintf("missing segment file %s: %v", path, err))
	}
	defer f.Close()

	return io.Copy(dst, f)
}

// PrepareFinalPath resolves finalPath against policy's collision rule and
// ensures its parent directory exists, returning the path that the caller
// should actually write to. Shared by Assemble and the media muxing path in
// brain.Brain.finishJob, which both need the same collision/mkdir handling
// (§4.7/§4.8).
func PrepareFinalPath(finalPath string, policy internal.CollisionPolicy) (string, error) {
	resolved, err := resolveCollision(finalPath, policy)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", internal.NewEngineError(internal.ErrWritePermission, err.Error())
	}
	return resolved, nil
}

func resolveCollision(finalPath string, policy internal.CollisionPolicy) (string, error) {
	if _, err := os.Stat(finalPath); os.IsNotExist(err) {
		return finalPath, nil
	} else if err != nil {
		return "", internal.NewEngineError(internal.ErrWritePermission, err.Error())
	}

	if policy == internal.CollisionOverwrite {
		return finalPath, nil
	}

	dir := filepath.Dir(finalPath)
	ext := filepath.Ext(finalPath)
	base := finalPath[:len(finalPath)-len(ext)]
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", filepath.Base(base), i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}
