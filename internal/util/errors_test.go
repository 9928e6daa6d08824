package util

import "testing"

func TestToUserError(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ERROR: [youtube] abc: Sign in to confirm your age", "This video is age-restricted"},
		{"ERROR: [youtube] abc: Private video", "This video is private"},
		{"Sign in to confirm you're not a bot", "YouTube wants a signed-in session for this request"},
		{"HTTP Error 429: Too Many Requests", "Rate limited, try again in a few minutes"},
		{"read tcp: connection reset by peer", "Connection dropped, try again"},
		{"something odd", "Download failed"},
	}
	for _, tt := range tests {
		if got := ToUserError(tt.in); got != tt.want {
			t.Errorf("ToUserError(%q): Expected %q, got %q", tt.in, tt.want, got)
		}
	}
	if got := ToUserErrorOr("something odd", "Upload failed"); got != "Upload failed" {
		t.Errorf("Expected the fallback, got %q", got)
	}
}
