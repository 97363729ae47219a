package probe

import "testing"

func TestPlanSegments_UnknownSize(t *testing.T) {
	segs := PlanSegments(-1, 8)
	if len(segs) != 1 || segs[0].Start != 0 || segs[0].End != 0 {
		t.Errorf("unknown size should produce a single unbounded segment, got %+v", segs)
	}
}

func TestPlanSegments_SmallFileSingleSegment(t *testing.T) {
	segs := PlanSegments(512<<10, 8) // 512KiB < MinSegmentSize
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment for a small file, got %d", len(segs))
	}
	if segs[0].Start != 0 || segs[0].End != 512<<10 {
		t.Errorf("segment range = [%d,%d), want [0,%d)", segs[0].Start, segs[0].End, 512<<10)
	}
}

func TestPlanSegments_SplitsAcrossConnections(t *testing.T) {
	total := int64(64 << 20) // 64MiB
	segs := PlanSegments(total, 4)
	if len(segs) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(segs))
	}
	var sum int64
	for i, s := range segs {
		if s.Index != i {
			t.Errorf("segment %d has Index %d", i, s.Index)
		}
		sum += s.End - s.Start
	}
	if sum != total {
		t.Errorf("segments should cover the whole file: sum=%d, want %d", sum, total)
	}
	if segs[len(segs)-1].End != total {
		t.Errorf("last segment should end at total size, got %d", segs[len(segs)-1].End)
	}
}

func TestPlanSegments_ShrinksThreadsBelowMinSegmentSize(t *testing.T) {
	total := int64(3 * MinSegmentSize)
	segs := PlanSegments(total, 32)
	if len(segs) > 3 {
		t.Errorf("expected at most 3 segments to respect MinSegmentSize, got %d", len(segs))
	}
	for _, s := range segs[:len(segs)-1] {
		if s.End-s.Start < MinSegmentSize {
			t.Errorf("non-final segment smaller than MinSegmentSize: %+v", s)
		}
	}
}

func TestPlanSegments_ClampsMaxConnections(t *testing.T) {
	segs := PlanSegments(int64(MaxConnections+10)*MinSegmentSize, 1000)
	if len(segs) > MaxConnections {
		t.Errorf("expected at most %d segments, got %d", MaxConnections, len(segs))
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	cases := []struct {
		in    string
		want  int64
		valid bool
	}{
		{"bytes 0-99/200", 200, true},
		{"bytes 0-99/*", 0, false},
		{"malformed", 0, false},
	}
	for _, c := range cases {
		got, ok := parseContentRangeTotal(c.in)
		if ok != c.valid {
			t.Errorf("parseContentRangeTotal(%q) ok = %v, want %v", c.in, ok, c.valid)
			continue
		}
		if ok && got != c.want {
			t.Errorf("parseContentRangeTotal(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFilenameFromContentDisposition(t *testing.T) {
	cases := map[string]string{
		"":                                          "",
		`attachment; filename="movie.mp4"`:          "movie.mp4",
		`attachment; filename*=UTF-8''movie%20x.mp4`: "movie x.mp4",
		"not a valid header":                         "",
	}
	for in, want := range cases {
		if got := filenameFromContentDisposition(in); got != want {
			t.Errorf("filenameFromContentDisposition(%q) = %q, want %q", in, got, want)
		}
	}
}
