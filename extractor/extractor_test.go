package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"idm/internal"
	"idm/transport"
)

func newTestTransport(t *testing.T) *transport.Transport {
	t.Helper()
	tr, err := transport.New(transport.Config{ConnectTimeout: 2 * time.Second, IdleReadTimeout: 2 * time.Second, Backoff: transport.BackoffConfig{MaxAttempts: 1}})
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	return tr
}

func TestExtract_PlainFileByExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(newTestTransport(t))
	info, err := e.Extract(context.Background(), srv.URL+"/archive.zip")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(info.Formats) != 1 || info.Formats[0].Protocol != internal.ProtocolPlain {
		t.Errorf("expected a single plain format, got %+v", info.Formats)
	}
	if info.Ext != "zip" {
		t.Errorf("Ext = %q, want zip", info.Ext)
	}
}

func TestExtract_DetectsHLSByExtension(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXTINF:5,\nseg0.ts\n#EXT-X-ENDLIST\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := New(newTestTransport(t))
	info, err := e.Extract(context.Background(), srv.URL+"/stream.m3u8")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(info.Formats) != 1 || info.Formats[0].Protocol != internal.ProtocolHLS {
		t.Fatalf("expected a single hls format, got %+v", info.Formats)
	}
	if len(info.Formats[0].Fragments) != 1 {
		t.Errorf("expected 1 fragment, got %d", len(info.Formats[0].Fragments))
	}
}

func TestExtract_DetectsHLSByContentType(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/play", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			return
		}
		w.Write([]byte("#EXTM3U\n#EXTINF:5,\nseg0.ts\n#EXT-X-ENDLIST\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := New(newTestTransport(t))
	info, err := e.Extract(context.Background(), srv.URL+"/play")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if info.Formats[0].Protocol != internal.ProtocolHLS {
		t.Errorf("expected HLS protocol from content-type sniff, got %v", info.Formats[0].Protocol)
	}
}

func TestRefresh_DelegatesToExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(newTestTransport(t))
	info, err := e.Refresh(context.Background(), srv.URL+"/file.bin")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(info.Formats) != 1 {
		t.Errorf("expected Refresh to behave like Extract")
	}
}
