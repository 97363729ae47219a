// Package extractor provides a reference internal.InfoExtractor: it treats
// any URL as a plain resource unless its content sniffs as an HLS
// playlist, in which case it resolves the master playlist's variants into
// selectable internal.Format entries (§6).
package extractor

import (
	"context"
	"path"
	"strings"

	"idm/internal"
	"idm/transport"
	"idm/video"
)

// Basic is a minimal InfoExtractor with no site-specific logic: it
// distinguishes plain downloads from HLS playlists by content sniffing
// and otherwise passes the URL through unchanged.
type Basic struct {
	t *transport.Transport
}

// New constructs a Basic extractor over a shared Transport.
func New(t *transport.Transport) *Basic {
	return &Basic{t: t}
}

func (b *Basic) Extract(ctx context.Context, rawURL string) (*internal.MediaInfo, error) {
	if looksLikePlaylist(rawURL) {
		return b.extractHLS(ctx, rawURL)
	}

	resp, err := b.t.Head(ctx, rawURL, nil)
	if err == nil {
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "mpegurl") {
			return b.extractHLS(ctx, rawURL)
		}
	}

	return &internal.MediaInfo{
		Ext: strings.TrimPrefix(path.Ext(rawURL), "."),
		Formats: []internal.Format{
			{FormatID: "direct", URL: rawURL, Protocol: internal.ProtocolPlain},
		},
	}, nil
}

func (b *Basic) Refresh(ctx context.Context, originalURL string) (*internal.MediaInfo, error) {
	return b.Extract(ctx, originalURL)
}

func (b *Basic) extractHLS(ctx context.Context, rawURL string) (*internal.MediaInfo, error) {
	pipeline := video.New(b.t)
	body, mediaURL, err := pipeline.ResolvePlaylist(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}

	frags, _, err := video.ParseMasterOrMediaPlaylist(body, mediaURL)
	if err != nil {
		return nil, err
	}
	if len(frags) == 0 {
		return nil, internal.NewEngineError(internal.ErrProbeFailed, "media playlist has no fragments")
	}

	return &internal.MediaInfo{
		Ext: "ts",
		Formats: []internal.Format{
			{
				FormatID:  "hls",
				URL:       mediaURL,
				Protocol:  internal.ProtocolHLS,
				Fragments: frags,
			},
		},
	}, nil
}

func looksLikePlaylist(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, ".m3u8")
}

var _ internal.InfoExtractor = (*Basic)(nil)
