package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func cookieEnv(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.txt")
	backups := filepath.Join(dir, "backups")
	t.Setenv("BOT_CONFIG_FILE", "")
	t.Setenv("YOUTUBE_COOKIES_PATH", path)
	t.Setenv("COOKIES_BACKUP_DIR", backups)
	return path, backups
}

func TestCookiesValidateRejectsSmallFile(t *testing.T) {
	_, _ = cookieEnv(t)
	file := filepath.Join(t.TempDir(), "tiny.txt")
	if err := os.WriteFile(file, []byte("# Netscape HTTP Cookie File\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "cookies", "validate", file)
	if err == nil || !strings.Contains(err.Error(), "too small") {
		t.Errorf("Expected a too small error, got %v", err)
	}
}

func TestCookiesValidateAcceptsProviderCookies(t *testing.T) {
	_, _ = cookieEnv(t)
	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")
	for _, name := range []string{"SID", "HSID", "SSID", "APISID"} {
		b.WriteString(".youtube.com\tTRUE\t/\tTRUE\t1999999999\t" + name + "\tvalue-value-value\n")
	}
	file := filepath.Join(t.TempDir(), "cookies.txt")
	if err := os.WriteFile(file, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "cookies", "validate", file)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out, "Valid cookies file") {
		t.Errorf("Expected a valid summary, got %q", out)
	}
}

func TestCookiesBackupsEmpty(t *testing.T) {
	_, backups := cookieEnv(t)

	out, err := execute(t, "cookies", "backups")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out, "No backups in "+backups) {
		t.Errorf("Expected empty listing, got %q", out)
	}
}

func TestCookiesPruneKeepsNewest(t *testing.T) {
	_, backups := cookieEnv(t)
	if err := os.MkdirAll(backups, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"cookies_backup_20240101_000000.txt",
		"cookies_backup_20240102_000000.txt",
		"cookies_backup_20240103_000000.txt",
	} {
		if err := os.WriteFile(filepath.Join(backups, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := execute(t, "cookies", "prune", "--keep", "1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out, "Removed 2 backup(s)") {
		t.Errorf("Expected 2 removed, got %q", out)
	}
	entries, _ := os.ReadDir(backups)
	if len(entries) != 1 {
		t.Errorf("Expected 1 backup left, got %d", len(entries))
	}
}

func TestCookiesPruneRejectsNegativeKeep(t *testing.T) {
	_, _ = cookieEnv(t)

	if _, err := execute(t, "cookies", "prune", "--keep", "-1"); err == nil {
		t.Error("Expected an error for a negative keep")
	}
}
