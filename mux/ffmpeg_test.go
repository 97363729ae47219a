package mux

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"idm/internal"
)

func TestNew_DefaultsToFFmpegOnPath(t *testing.T) {
	f := New("")
	if f.binary != "ffmpeg" {
		t.Errorf("binary = %q, want ffmpeg", f.binary)
	}
	f2 := New("  /custom/ffmpeg  ")
	if f2.binary != "/custom/ffmpeg" {
		t.Errorf("binary = %q, want /custom/ffmpeg", f2.binary)
	}
}

// fakeBinary writes an executable shell script that prints stderr, creates
// an empty file at its last argument and exits with exitCode, standing in
// for ffmpeg in tests.
func fakeBinary(t *testing.T, exitCode int, stderr string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary script is POSIX-only")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	script := "#!/bin/sh\n"
	if stderr != "" {
		script += "echo '" + stderr + "' >&2\n"
	}
	script += "for out; do :; done\n" // portable POSIX way to grab the last argument
	script += "touch \"$out\"\n"
	script += "exit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestFFMpeg_MergeSuccess(t *testing.T) {
	f := New(fakeBinary(t, 0, ""))
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")

	if err := f.Merge(context.Background(), "video.mp4", "audio.m4a", out); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected output file to be created: %v", err)
	}
}

func TestFFMpeg_RunFailurePropagatesStderr(t *testing.T) {
	f := New(fakeBinary(t, 1, "invalid data found"))
	err := f.Merge(context.Background(), "video.mp4", "audio.m4a", filepath.Join(t.TempDir(), "out.mp4"))
	if err == nil {
		t.Fatal("expected error from a failing ffmpeg invocation")
	}
	ee, ok := err.(*internal.EngineError)
	if !ok || ee.Kind != internal.ErrMuxFailed {
		t.Errorf("expected ErrMuxFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid data found") {
		t.Errorf("expected ffmpeg's stderr in the error, got %v", err)
	}
}

func TestFFMpeg_TagRenamesTempFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatalf("seed target: %v", err)
	}

	f := New(fakeBinary(t, 0, ""))
	if err := f.Tag(context.Background(), target, internal.MuxTags{Title: "My Video"}); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("expected tagged file at original path: %v", err)
	}
}
