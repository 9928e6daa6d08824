package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configFileEnv, "")

	c, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if c.MaxFileSize != 25*1024*1024 {
		t.Errorf("Expected default max file size 25 MiB, got %d", c.MaxFileSize)
	}
	if c.SessionIdleTimeout != 10*time.Minute {
		t.Errorf("Expected idle timeout 10m, got %v", c.SessionIdleTimeout)
	}
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bot.yaml")
	yaml := "maxDuration: 600\ntempDir: /srv/runs\nallowedUsers: [\"1\", \"2\"]\n"
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(configFileEnv, file)
	t.Setenv("MAX_DURATION", "900")
	t.Setenv("ADMIN_USERS", " 7 , ,8")

	c, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if c.MaxDuration != 900 {
		t.Errorf("Expected env to override file, got max duration %d", c.MaxDuration)
	}
	if c.TempDir != "/srv/runs" {
		t.Errorf("Expected temp dir from file, got %q", c.TempDir)
	}
	if len(c.AllowedUsers) != 2 {
		t.Errorf("Expected 2 allowed users, got %v", c.AllowedUsers)
	}
	if strings.Join(c.AdminUsers, ",") != "7,8" {
		t.Errorf("Expected cleaned admin ids [7 8], got %v", c.AdminUsers)
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bot.yaml")
	if err := os.WriteFile(file, []byte("maxDurration: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(configFileEnv, file)

	if _, err := Load(); err == nil {
		t.Error("Expected an error for a misspelled key")
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DISCORD_TOKEN") {
		t.Errorf("Expected missing token error, got %v", err)
	}

	c.DiscordToken = "token"
	c.DiscordAppID = "app"
	if err := c.Validate(); err != nil {
		t.Errorf("Expected defaults plus credentials to validate, got %v", err)
	}

	missing := c
	missing.TempDir = ""
	if err := missing.Validate(); err == nil || !strings.Contains(err.Error(), "tempDir / TEMP_DIR") {
		t.Errorf("Expected missing temp dir error, got %v", err)
	}

	c.MaxConcurrent = 0
	if err := c.Validate(); err == nil {
		t.Error("Expected an error for zero concurrent downloads")
	}
}

func TestAccessLists(t *testing.T) {
	open := Default()
	if !open.IsAllowed("anyone") {
		t.Error("Expected an empty allow-list to admit everyone")
	}
	if open.IsAdmin("anyone") {
		t.Error("Expected nobody to be admin without lists")
	}

	c := Default()
	c.AllowedUsers = []string{"1", "2"}
	if !c.IsAdmin("1") {
		t.Error("Expected admin list to fall back to the allow-list")
	}
	if c.IsAllowed("3") {
		t.Error("Expected user 3 to be rejected")
	}

	c.AdminUsers = []string{"9"}
	if c.IsAdmin("1") {
		t.Error("Expected explicit admin list to replace the fallback")
	}
	if !c.IsAllowed("9") {
		t.Error("Expected admins to be allowed even when not on the allow-list")
	}
}
