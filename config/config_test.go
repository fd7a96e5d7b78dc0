package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/panyam/possession"
	"github.com/panyam/possession/client"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	c, err := FromEnv(envOf(nil))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if c.BaseURL != client.DefaultBaseURL || c.Store != StoreFile || c.LeadTime != possession.DefaultLeadTime {
		t.Errorf("defaults = %+v", c)
	}
	if c.Endpoints != client.DefaultEndpoints() {
		t.Errorf("endpoints = %+v", c.Endpoints)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	c, err := FromEnv(envOf(map[string]string{
		"POS_API_BASE_URL":      "https://pos.example.com/api",
		"POS_REFRESH_PATH":      "/v2/refresh",
		"POS_REFRESH_LEAD_TIME": "120",
		"POS_REFRESH_TIMEOUT":   "5s",
		"POS_HTTP_TIMEOUT":      "1m",
		"POS_VERIFY_ON_RESTORE": "true",
		"POS_STORE":             "REDIS",
		"POS_REDIS_ADDR":        "cache:6379",
		"POS_LOG_LEVEL":         "debug",
	}))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if c.BaseURL != "https://pos.example.com/api" || c.Endpoints.Refresh != "/v2/refresh" || c.Endpoints.Login != "/auth/login" {
		t.Errorf("urls = %q %+v", c.BaseURL, c.Endpoints)
	}
	if c.LeadTime != 2*time.Minute || c.RefreshTimeout != 5*time.Second || c.HTTPTimeout != time.Minute {
		t.Errorf("durations = %v %v %v", c.LeadTime, c.RefreshTimeout, c.HTTPTimeout)
	}
	if !c.VerifyOnRestore || c.Store != StoreRedis || c.RedisAddr != "cache:6379" || c.LogLevel != slog.LevelDebug {
		t.Errorf("config = %+v", c)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"relative url", map[string]string{"POS_API_BASE_URL": "/api"}},
		{"ftp url", map[string]string{"POS_API_BASE_URL": "ftp://files.example.com"}},
		{"bad duration", map[string]string{"POS_REFRESH_TIMEOUT": "soon"}},
		{"zero timeout", map[string]string{"POS_HTTP_TIMEOUT": "0"}},
		{"lead too long", map[string]string{"POS_REFRESH_LEAD_TIME": "10m"}},
		{"bad bool", map[string]string{"POS_VERIFY_ON_RESTORE": "maybe"}},
		{"bad level", map[string]string{"POS_LOG_LEVEL": "chatty"}},
		{"unknown store", map[string]string{"POS_STORE": "floppy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromEnv(envOf(tt.env)); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("FromEnv() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "pos.env")
	content := "POS_API_BASE_URL=https://dotenv.example.com/api\nPOS_STORE=mem\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables that are already set
	t.Setenv("POS_STORE", "fs")
	t.Setenv("POS_API_BASE_URL", "")
	os.Unsetenv("POS_API_BASE_URL")

	c, err := Load(envFile, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.BaseURL != "https://dotenv.example.com/api" {
		t.Errorf("BaseURL = %q", c.BaseURL)
	}
	if c.Store != StoreFile {
		t.Errorf("Store = %q, want the environment to win", c.Store)
	}
}

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	pair := possession.TokenPair{AccessToken: "a", RefreshToken: "r"}

	t.Run("memory", func(t *testing.T) {
		c := Default()
		c.Store = StoreMemory
		store, closeFn, err := c.OpenStore(logger)
		if err != nil {
			t.Fatal(err)
		}
		defer closeFn()
		if err := store.Save(ctx, pair, nil); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("file", func(t *testing.T) {
		c := Default()
		c.StorePath = filepath.Join(t.TempDir(), "credentials.json")
		store, closeFn, err := c.OpenStore(logger)
		if err != nil {
			t.Fatal(err)
		}
		defer closeFn()
		if err := store.Save(ctx, pair, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(c.StorePath); err != nil {
			t.Errorf("credentials file not written: %v", err)
		}
	})

	t.Run("options build a session", func(t *testing.T) {
		c := Default()
		s := client.NewSession(c.BaseURL, nil, c.Options(logger)...)
		defer s.Close()
		if s.BaseURL() != client.DefaultBaseURL {
			t.Errorf("BaseURL() = %q", s.BaseURL())
		}
	})
}
