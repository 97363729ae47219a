package video

import (
	"context"
	"fmt"
	"os"

	"idm/internal"
	"idm/transport"
)

// Pipeline drives VideoPipeline (§4.8): resolving a format's fragment list
// into segments, fetching and decrypting each fragment, and writing them in
// order into the job's temp directory for Assembler to concatenate.
type Pipeline struct {
	t *transport.Transport
}

// New constructs a Pipeline over a shared Transport.
func New(t *transport.Transport) *Pipeline {
	return &Pipeline{t: t}
}

// ResolvePlaylist fetches rawURL and, if it is an HLS master playlist,
// follows the highest-bandwidth variant until it reaches a media playlist.
// It returns the media playlist bytes and the URL they were fetched from
// (needed to resolve relative fragment URIs).
func (p *Pipeline) ResolvePlaylist(ctx context.Context, rawURL string, headers map[string]string) ([]byte, string, error) {
	for i := 0; i < 5; i++ {
		body, err := p.t.Fetch(ctx, rawURL, headers)
		if err != nil {
			return nil, "", err
		}
		_, variantURL, err := ParseMasterOrMediaPlaylist(body, rawURL)
		if err != nil {
			return nil, "", err
		}
		if variantURL == "" {
			return body, rawURL, nil
		}
		rawURL = variantURL
	}
	return nil, "", internal.NewEngineError(internal.ErrProbeFailed, "master playlist variant chain too deep")
}

// BuildSegments turns a media playlist's fragments into internal.Segments,
// resolving the AES-128 key (if any) once and deriving each segment's IV
// either from the EXT-X-KEY tag or its own sequence number (§4.8).
func (p *Pipeline) BuildSegments(ctx context.Context, playlistBody []byte, playlistURL string, headers map[string]string) ([]*internal.Segment, error) {
	frags, _, err := ParseMasterOrMediaPlaylist(playlistBody, playlistURL)
	if err != nil {
		return nil, err
	}

	var key []byte
	keyTag, err := ExtractKeyTag(playlistBody)
	if err != nil {
		return nil, internal.NewManifestCorruptError(playlistURL, err.Error())
	}
	if keyTag != nil {
		keyURL := resolveURL(playlistURL, keyTag.URI)
		key, err = p.t.Fetch(ctx, keyURL, headers)
		if err != nil {
			return nil, fmt.Errorf("fetch decryption key: %w", err)
		}
	}

	startSeq := MediaSequence(playlistBody)
	segs := make([]*internal.Segment, 0, len(frags))
	for i, f := range frags {
		seq := startSeq + i
		seg := &internal.Segment{
			Index:       i,
			State:       internal.SegmentIdle,
			SourceURL:   f.URL,
			SequenceNum: seq,
		}
		if key != nil {
			var ivHex string
			if keyTag != nil {
				ivHex = keyTag.IV
			}
			iv, err := decodeIV(ivHex, seq)
			if err != nil {
				return nil, internal.NewManifestCorruptError(playlistURL, err.Error())
			}
			seg.DecryptKey = key
			seg.IV = iv
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// FetchFragment downloads and, if encrypted, decrypts one fragment, writing
// the plaintext to destPath.
func (p *Pipeline) FetchFragment(ctx context.Context, seg *internal.Segment, headers map[string]string, destPath string) error {
	body, err := p.t.Fetch(ctx, seg.SourceURL, headers)
	if err != nil {
		return err
	}

	if seg.DecryptKey != nil {
		body, err = decryptSegment(seg.Index, body, seg.DecryptKey, seg.IV)
		if err != nil {
			return err
		}
	}

	if err := os.WriteFile(destPath, body, 0o644); err != nil {
		return internal.NewEngineError(internal.ErrWritePermission, err.Error())
	}
	return nil
}

