// Package mux provides a reference internal.MediaMuxer backed by an
// external ffmpeg binary, invoked via os/exec the way the pack's ffprobe
// wrapper invokes its own binary.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"idm/internal"
)

const defaultTimeout = 10 * time.Minute

// FFMpeg shells out to an ffmpeg-compatible binary to merge separate
// audio/video tracks, mux HLS fragments into a single container, and tag
// output files with metadata (§4.8, §6 MediaMuxer contract).
type FFMpeg struct {
	binary string
}

// New constructs an FFMpeg muxer. An empty binary defaults to "ffmpeg" on
// PATH.
func New(binary string) *FFMpeg {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFMpeg{binary: bin}
}

// Merge combines a video-only and audio-only file into one container via
// stream copy (no re-encode).
func (f *FFMpeg) Merge(ctx context.Context, videoPath, audioPath, outPath string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		outPath,
	}
	return f.run(ctx, args)
}

// MuxHLS concatenates a list of downloaded HLS fragments (recorded one per
// line in segmentsListFile, ffconcat format) into a single output file.
func (f *FFMpeg) MuxHLS(ctx context.Context, segmentsListFile, outPath string) error {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", segmentsListFile,
		"-c", "copy",
		outPath,
	}
	return f.run(ctx, args)
}

// Tag writes metadata fields and an optional thumbnail into file in place.
func (f *FFMpeg) Tag(ctx context.Context, file string, meta internal.MuxTags) error {
	tmp := file + ".tagging" + filepath.Ext(file)
	args := []string{"-y", "-i", file}

	if meta.ThumbnailPath != "" {
		args = append(args, "-i", meta.ThumbnailPath, "-map", "0", "-map", "1", "-disposition:1", "attached_pic")
	}

	args = append(args, "-c", "copy")
	if meta.Title != "" {
		args = append(args, "-metadata", "title="+meta.Title)
	}
	if meta.Artist != "" {
		args = append(args, "-metadata", "artist="+meta.Artist)
	}
	if meta.Description != "" {
		args = append(args, "-metadata", "description="+meta.Description)
	}
	args = append(args, tmp)

	if err := f.run(ctx, args); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, file)
}

func (f *FFMpeg) run(ctx context.Context, args []string) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return internal.NewMuxFailedError(fmt.Sprintf("%s: %s", f.binary, msg))
	}
	return nil
}

var _ internal.MediaMuxer = (*FFMpeg)(nil)
