package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Backend.BaseURL = "https://api.example.test"
	cfg.Sync.SendTimeout = Duration(45 * time.Second)
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Sync.SendTimeout.Std() != 45*time.Second {
		t.Errorf("SendTimeout = %v, want 45s", loaded.Sync.SendTimeout.Std())
	}
	if loaded.Backend.BaseURL != "https://api.example.test" {
		t.Errorf("BaseURL = %q", loaded.Backend.BaseURL)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "self_id = \"u-1\"\n[sync]\ntyping_ttl = \"3s\"\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.TypingTTL.Std() != 3*time.Second {
		t.Errorf("TypingTTL = %v, want 3s", cfg.Sync.TypingTTL.Std())
	}
	if cfg.Sync.SendTimeout.Std() != 30*time.Second {
		t.Errorf("SendTimeout = %v, want default 30s", cfg.Sync.SendTimeout.Std())
	}
	if cfg.Sync.OrphanReceiptTTL.Std() != 10*time.Second {
		t.Errorf("OrphanReceiptTTL = %v, want default 10s", cfg.Sync.OrphanReceiptTTL.Std())
	}
	if cfg.API.Listen != "127.0.0.1:7420" {
		t.Errorf("Listen = %q, want default", cfg.API.Listen)
	}
	if cfg.DefaultProfile != "main" {
		t.Errorf("DefaultProfile = %q, want main", cfg.DefaultProfile)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync]\nsend_timeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load() error = %v, want fs.ErrNotExist", err)
	}
}

func TestLoadWithEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	data := "CHATSYNC_BASE_URL=https://env.example.test\nCHATSYNC_SEND_TIMEOUT=5s\n"
	if err := os.WriteFile(envFile, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATSYNC_BASE_URL", "")
	t.Setenv("CHATSYNC_SEND_TIMEOUT", "")
	t.Setenv("CHATSYNC_TOKEN", "from-process")
	// godotenv never overrides variables that are already set.
	os.Unsetenv("CHATSYNC_BASE_URL")
	os.Unsetenv("CHATSYNC_SEND_TIMEOUT")

	cfg, err := LoadWithEnv(filepath.Join(dir, "missing.toml"), envFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "https://env.example.test" {
		t.Errorf("BaseURL = %q, want value from .env", cfg.Backend.BaseURL)
	}
	if cfg.Sync.SendTimeout.Std() != 5*time.Second {
		t.Errorf("SendTimeout = %v, want 5s", cfg.Sync.SendTimeout.Std())
	}
	if cfg.Backend.Token != "from-process" {
		t.Errorf("Token = %q, want from-process", cfg.Backend.Token)
	}
	if cfg.PushURL() != "https://env.example.test/ws" {
		t.Errorf("PushURL() = %q", cfg.PushURL())
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
