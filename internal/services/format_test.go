package services

import (
	"strings"
	"testing"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in     string
		height int
		ok     bool
	}{
		{"720p", 720, true},
		{"1080", 1080, true},
		{"best", 0, true},
		{"999p", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		tier, ok := ParseTier(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseTier(%q): expected ok=%v, got %v", tt.in, tt.ok, ok)
			continue
		}
		if ok && tier.Height != tt.height {
			t.Errorf("ParseTier(%q): expected height %d, got %d", tt.in, tt.height, tier.Height)
		}
	}
}

func TestSelectFormatDeterministic(t *testing.T) {
	tier := Tier{Name: "720p", Height: 720}
	for attempt := 0; attempt < 5; attempt++ {
		a := SelectFormat(tier, attempt)
		b := SelectFormat(tier, attempt)
		if a != b {
			t.Errorf("Attempt %d: expected identical selections, got %+v and %+v", attempt, a, b)
		}
	}
}

func TestSelectFormatNeverStricter(t *testing.T) {
	for _, name := range []string{"360p", "480p", "720p", "1080p", "1440p", "2160p", "best"} {
		tier, _ := ParseTier(name)
		prev := SelectFormat(tier, 0)
		for attempt := 1; attempt < 6; attempt++ {
			cur := SelectFormat(tier, attempt)
			if cur.Strictness > prev.Strictness {
				t.Errorf("%s attempt %d: strictness rose from %d to %d", name, attempt, prev.Strictness, cur.Strictness)
			}
			prev = cur
		}
	}
}

func TestSelectFormatTiers(t *testing.T) {
	tier := Tier{Name: "720p", Height: 720}

	first := SelectFormat(tier, 0)
	if first.Primary != "bestvideo[height<=720][ext=mp4],bestaudio[ext=m4a]" {
		t.Errorf("Unexpected attempt 0 selector %q", first.Primary)
	}
	second := SelectFormat(tier, 1)
	if second.Primary != "bestvideo[height<=720],bestaudio" {
		t.Errorf("Unexpected attempt 1 selector %q", second.Primary)
	}
	third := SelectFormat(tier, 2)
	if third.Primary != "best[height<=720]/best" {
		t.Errorf("Unexpected attempt 2 selector %q", third.Primary)
	}

	for attempt := 0; attempt < 4; attempt++ {
		if s := SelectFormat(tier, attempt); s.Fallback != "best" {
			t.Errorf("Attempt %d: expected fallback best, got %q", attempt, s.Fallback)
		}
	}
}

func TestSelectFormatUncapped(t *testing.T) {
	tier, _ := ParseTier("best")
	for attempt := 0; attempt < 3; attempt++ {
		if s := SelectFormat(tier, attempt); strings.Contains(s.Primary, "height") {
			t.Errorf("Attempt %d: expected no height cap, got %q", attempt, s.Primary)
		}
	}
	if s := SelectFormat(tier, 2); s.Primary != "best" {
		t.Errorf("Expected plain best, got %q", s.Primary)
	}
}
