package util

import "testing"

func TestProgressBar(t *testing.T) {
	tests := []struct {
		percent float64
		want    string
	}{
		{0, "░░░░░░░░░░"},
		{45, "▓▓▓▓░░░░░░"},
		{100, "▓▓▓▓▓▓▓▓▓▓"},
		{150, "▓▓▓▓▓▓▓▓▓▓"},
		{-5, "░░░░░░░░░░"},
	}
	for _, tt := range tests {
		if got := ProgressBar(tt.percent); got != tt.want {
			t.Errorf("ProgressBar(%v): Expected %q, got %q", tt.percent, tt.want, got)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "Unknown"},
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.50 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d): Expected %q, got %q", tt.bytes, tt.want, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		secs int
		want string
	}{
		{0, "0:00"},
		{59, "0:59"},
		{754, "12:34"},
		{1800, "30:00"},
		{3725, "1:02:05"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.secs); got != tt.want {
			t.Errorf("FormatDuration(%d): Expected %q, got %q", tt.secs, tt.want, got)
		}
	}
}

func TestOrDefault(t *testing.T) {
	if got := OrDefault("", "YouTube"); got != "YouTube" {
		t.Errorf("Expected fallback, got %q", got)
	}
	if got := OrDefault("Channel", "YouTube"); got != "Channel" {
		t.Errorf("Expected value, got %q", got)
	}
}
