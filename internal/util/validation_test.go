package util

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url  string
		want error
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", nil},
		{"youtube.com/watch?v=dQw4w9WgXcQ", nil},
		{"HTTPS://YOUTU.BE/dQw4w9WgXcQ", nil},
		{"https://youtube.com/shorts/abc123", nil},
		{"https://www.youtube.com/playlist?list=PL123", nil},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", nil},
		{"https://m.youtube.com/watch?feature=share&v=dQw4w9WgXcQ", nil},
		{"", ErrEmptyURL},
		{"https://vimeo.com/12345", ErrUnsupported},
		{"https://www.youtube.com/channel/UC123", ErrUnsupported},
		{"https://youtube.com/watch?v=" + strings.Repeat("a", 2100), ErrURLTooLong},
	}
	for _, tt := range tests {
		got := ValidateURL(tt.url)
		if !errors.Is(got, tt.want) {
			t.Errorf("ValidateURL(%.40q): Expected %v, got %v", tt.url, tt.want, got)
		}
	}
}

func TestExtractURLs(t *testing.T) {
	text := `first https://www.youtube.com/watch?v=aaa
youtu.be/bbb, and again https://www.youtube.com/watch?v=aaa
https://www.youtube.com/channel/nope
https://youtube.com/shorts/ccc`

	urls, rejected := ExtractURLs(text, 0)
	want := []string{
		"https://www.youtube.com/watch?v=aaa",
		"https://youtu.be/bbb",
		"https://youtube.com/shorts/ccc",
	}
	if len(urls) != len(want) {
		t.Fatalf("Expected %d urls, got %d: %v", len(want), len(urls), urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("Expected url %d to be %q, got %q", i, want[i], urls[i])
		}
	}
	if rejected != 1 {
		t.Errorf("Expected 1 rejected token, got %d", rejected)
	}

	urls, rejected = ExtractURLs(text, 2)
	if len(urls) != 2 {
		t.Errorf("Expected the limit to keep 2 urls, got %d", len(urls))
	}
	if rejected != 2 {
		t.Errorf("Expected 2 rejected tokens with the limit, got %d", rejected)
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := SanitizeFilename(`a<b>c:"d"/e\f|g?h*`); got != "abcdefgh" {
		t.Errorf("Expected unsafe characters stripped, got %q", got)
	}
	if got := SanitizeFilename("  lots   of\tspace  "); got != "lots of space" {
		t.Errorf("Expected whitespace collapsed, got %q", got)
	}
	if got := SanitizeFilename("Live\tat Wembley\nPart 2\r\x00"); got != "Live at Wembley Part 2" {
		t.Errorf("Expected tabs and newlines to separate words, got %q", got)
	}
	long := strings.Repeat("é", 150)
	got := SanitizeFilename(long)
	if n := len([]rune(got)); n != 100 {
		t.Errorf("Expected 100 runes, got %d", n)
	}
}
