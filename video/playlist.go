// Package video implements VideoPipeline (§4.8): HLS (m3u8) playlist
// parsing, per-fragment AES-128-CBC decryption, and ordered fragment
// download. DASH (MPD) manifests are not parsed.
// Grounded on the pack's HLS reference downloaders rather than the
// teacher, which has no media-streaming support.
package video

import (
	"bufio"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"idm/internal"
)

var bandwidthRe = regexp.MustCompile(`BANDWIDTH=(\d+)`)

// ParseMasterOrMediaPlaylist parses raw m3u8 text. If it is a master
// playlist (contains EXT-X-STREAM-INF), it returns the media playlist URL
// of the highest-bandwidth variant instead of fragments; the caller must
// fetch and re-parse that URL.
func ParseMasterOrMediaPlaylist(raw []byte, playlistURL string) (fragments []internal.Fragment, variantURL string, err error) {
	lines := splitLines(raw)

	isMaster := false
	for _, l := range lines {
		if strings.HasPrefix(l, "#EXT-X-STREAM-INF:") {
			isMaster = true
			break
		}
	}

	if isMaster {
		variantURL = selectBestVariant(lines, playlistURL)
		if variantURL == "" {
			return nil, "", internal.NewEngineError(internal.ErrProbeFailed, "no suitable stream found in master playlist")
		}
		return nil, variantURL, nil
	}

	frags, err := parseMediaPlaylistLines(lines, playlistURL)
	return frags, "", err
}

func splitLines(raw []byte) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	return lines
}

func selectBestVariant(lines []string, baseURL string) string {
	type candidate struct {
		url       string
		bandwidth int
	}
	var candidates []candidate

	for i, line := range lines {
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		bw := 0
		if m := bandwidthRe.FindStringSubmatch(line); len(m) > 1 {
			bw, _ = strconv.Atoi(m[1])
		}
		if i+1 >= len(lines) {
			continue
		}
		u := resolveURL(baseURL, strings.TrimSpace(lines[i+1]))
		if u != "" {
			candidates = append(candidates, candidate{url: u, bandwidth: bw})
		}
	}

	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.bandwidth > best.bandwidth {
			best = c
		}
	}
	return best.url
}

func resolveURL(baseURL, ref string) string {
	if ref == "" {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(rel).String()
}

func parseMediaPlaylistLines(lines []string, playlistURL string) ([]internal.Fragment, error) {
	var frags []internal.Fragment
	var pendingDuration float64

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			pendingDuration = parseExtInf(line)
		case line != "" && !strings.HasPrefix(line, "#"):
			frags = append(frags, internal.Fragment{
				URL:      resolveURL(playlistURL, line),
				Duration: pendingDuration,
			})
		}
	}

	return frags, nil
}

// MediaSequence returns the EXT-X-MEDIA-SEQUENCE value of a media playlist,
// used as the starting sequence number for segments built from its
// fragments (the default-IV fallback is keyed on absolute sequence number,
// not fragment index within this fetch).
func MediaSequence(raw []byte) int {
	for _, l := range splitLines(raw) {
		if strings.HasPrefix(l, "#EXT-X-MEDIA-SEQUENCE:") {
			if n, err := strconv.Atoi(strings.TrimPrefix(l, "#EXT-X-MEDIA-SEQUENCE:")); err == nil {
				return n
			}
		}
	}
	return 0
}

// IsEndlist reports whether the media playlist is complete (VOD) rather
// than a live/in-progress stream that must be repolled (§4.8 refresh).
func IsEndlist(raw []byte) bool {
	for _, l := range splitLines(raw) {
		if l == "#EXT-X-ENDLIST" {
			return true
		}
	}
	return false
}

func parseExtInf(line string) float64 {
	body := strings.TrimPrefix(line, "#EXTINF:")
	parts := strings.SplitN(body, ",", 2)
	if len(parts) == 0 {
		return 0
	}
	d, _ := strconv.ParseFloat(strings.TrimRight(parts[0], ", "), 64)
	return d
}

// parseKeyTag extracts METHOD=AES-128's URI and IV attributes from an
// EXT-X-KEY tag, e.g. #EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x1234...
func parseKeyTag(line string) (uri, iv string) {
	body := strings.TrimPrefix(line, "#EXT-X-KEY:")
	for _, attr := range splitAttrs(body) {
		kv := strings.SplitN(attr, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.Trim(strings.TrimSpace(kv[1]), `"`)
		switch key {
		case "URI":
			uri = val
		case "IV":
			iv = strings.TrimPrefix(strings.TrimPrefix(val, "0x"), "0X")
		}
	}
	return
}

// splitAttrs splits a comma-separated attribute list while respecting
// quoted commas (e.g. inside a URI attribute value).
func splitAttrs(s string) []string {
	var attrs []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				attrs = append(attrs, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		attrs = append(attrs, cur.String())
	}
	return attrs
}

// KeyTag is the parsed AES key reference for a media playlist, returned by
// ExtractKeyTag so the caller (Brain/worker) can fetch the key once.
type KeyTag struct {
	URI string
	IV  string // hex, without 0x prefix; empty means "use sequence number"
}

// ExtractKeyTag re-scans raw playlist text for its EXT-X-KEY tag, used when
// the caller needs key material ahead of fragment downloads.
func ExtractKeyTag(raw []byte) (*KeyTag, error) {
	lines := splitLines(raw)
	for _, l := range lines {
		if strings.HasPrefix(l, "#EXT-X-KEY:") {
			uri, iv := parseKeyTag(l)
			if uri == "" {
				return nil, fmt.Errorf("EXT-X-KEY tag missing URI")
			}
			return &KeyTag{URI: uri, IV: iv}, nil
		}
	}
	return nil, nil
}
