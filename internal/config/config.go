package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	// SelfID is the local user id. When empty it is read from the token's subject.
	SelfID  string  `toml:"self_id"`
	Backend Backend `toml:"backend"`
	Sync    Sync    `toml:"sync"`
	API     API     `toml:"api"`
}

type Backend struct {
	BaseURL string `toml:"base_url"`
	PushURL string `toml:"push_url"`
	Token   string `toml:"token"`
}

type Sync struct {
	SendTimeout      Duration `toml:"send_timeout"`
	TypingTTL        Duration `toml:"typing_ttl"`
	OrphanReceiptTTL Duration `toml:"orphan_receipt_ttl"`
	SweepInterval    Duration `toml:"sweep_interval"`
	MaxInflightSends int      `toml:"max_inflight_sends"`
}

type API struct {
	Listen         string   `toml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Default returns the configuration used when a field is not set.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Sync: Sync{
			SendTimeout:      Duration(30 * time.Second),
			TypingTTL:        Duration(6 * time.Second),
			OrphanReceiptTTL: Duration(10 * time.Second),
			SweepInterval:    Duration(time.Second),
			MaxInflightSends: 4,
		},
		API: API{
			Listen:         "127.0.0.1:7420",
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.fill()
	return cfg, nil
}

// LoadWithEnv loads path, then envFile (if present) into the process
// environment, then applies CHATSYNC_* overrides. A missing config file is
// not an error here: defaults plus environment are a valid setup.
func LoadWithEnv(path, envFile string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	for name, dst := range map[string]*string{
		"CHATSYNC_SELF_ID":  &c.SelfID,
		"CHATSYNC_BASE_URL": &c.Backend.BaseURL,
		"CHATSYNC_PUSH_URL": &c.Backend.PushURL,
		"CHATSYNC_TOKEN":    &c.Backend.Token,
		"CHATSYNC_LISTEN":   &c.API.Listen,
	} {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("CHATSYNC_SEND_TIMEOUT"); v != "" {
		if err := c.Sync.SendTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("CHATSYNC_SEND_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("CHATSYNC_MAX_INFLIGHT_SENDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATSYNC_MAX_INFLIGHT_SENDS: %w", err)
		}
		c.Sync.MaxInflightSends = n
	}
	c.fill()
	return nil
}

// fill restores defaults for values explicitly set to zero.
func (c *Config) fill() {
	d := Default()
	if c.DefaultProfile == "" {
		c.DefaultProfile = d.DefaultProfile
	}
	if c.Sync.SendTimeout <= 0 {
		c.Sync.SendTimeout = d.Sync.SendTimeout
	}
	if c.Sync.TypingTTL <= 0 {
		c.Sync.TypingTTL = d.Sync.TypingTTL
	}
	if c.Sync.OrphanReceiptTTL <= 0 {
		c.Sync.OrphanReceiptTTL = d.Sync.OrphanReceiptTTL
	}
	if c.Sync.SweepInterval <= 0 {
		c.Sync.SweepInterval = d.Sync.SweepInterval
	}
	if c.Sync.MaxInflightSends <= 0 {
		c.Sync.MaxInflightSends = d.Sync.MaxInflightSends
	}
	if c.API.Listen == "" {
		c.API.Listen = d.API.Listen
	}
}

// PushURL returns the configured push endpoint, or BaseURL + "/ws".
func (c *Config) PushURL() string {
	if c.Backend.PushURL != "" {
		return c.Backend.PushURL
	}
	if c.Backend.BaseURL == "" {
		return ""
	}
	return c.Backend.BaseURL + "/ws"
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
