// Package config loads session settings from the environment and an
// optional .env file, and builds the credential store and client options
// they describe.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/panyam/possession"
	"github.com/panyam/possession/client"
	fsstore "github.com/panyam/possession/stores/fs"
	"github.com/panyam/possession/stores/mem"
	redisstore "github.com/panyam/possession/stores/redis"
)

// AppName names the per-user config directory of the file store
const AppName = "possession"

// Store backends
const (
	StoreFile   = "fs"
	StoreMemory = "mem"
	StoreRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything needed to build a Session
type Config struct {
	BaseURL   string
	Endpoints client.Endpoints

	LeadTime        time.Duration
	RefreshTimeout  time.Duration
	HTTPTimeout     time.Duration
	VerifyOnRestore bool

	Store       string
	StorePath   string
	RedisAddr   string
	RedisPrefix string

	LogLevel slog.Level
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		BaseURL:        client.DefaultBaseURL,
		Endpoints:      client.DefaultEndpoints(),
		LeadTime:       possession.DefaultLeadTime,
		RefreshTimeout: client.DefaultRefreshTimeout,
		HTTPTimeout:    client.DefaultHTTPTimeout,
		Store:          StoreFile,
		RedisAddr:      "localhost:6379",
		RedisPrefix:    "possession:",
		LogLevel:       slog.LevelInfo,
	}
}

// Load reads the given .env files (".env" when none are named), then the
// POS_* environment variables. Missing .env files are ignored; variables
// already set in the environment win over .env entries.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	str("POS_API_BASE_URL", &c.BaseURL)
	str("POS_LOGIN_PATH", &c.Endpoints.Login)
	str("POS_REFRESH_PATH", &c.Endpoints.Refresh)
	str("POS_LOGOUT_PATH", &c.Endpoints.Logout)
	str("POS_VERIFY_PATH", &c.Endpoints.Verify)
	dur("POS_REFRESH_LEAD_TIME", &c.LeadTime)
	dur("POS_REFRESH_TIMEOUT", &c.RefreshTimeout)
	dur("POS_HTTP_TIMEOUT", &c.HTTPTimeout)
	str("POS_STORE", &c.Store)
	str("POS_STORE_PATH", &c.StorePath)
	str("POS_REDIS_ADDR", &c.RedisAddr)
	str("POS_REDIS_PREFIX", &c.RedisPrefix)

	if v, ok := lookup("POS_VERIFY_ON_RESTORE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("POS_VERIFY_ON_RESTORE: %w", err))
		}
		c.VerifyOnRestore = b
	}
	if v, ok := lookup("POS_LOG_LEVEL"); ok && v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("POS_LOG_LEVEL: %w", err))
		}
	}
	c.Store = strings.ToLower(c.Store)

	if len(errs) > 0 {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return c, c.Validate()
}

// parseDuration accepts Go durations and bare seconds
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the settings make sense together
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: base URL %q must be an absolute http(s) URL", ErrInvalidConfig, c.BaseURL)
	}
	if c.LeadTime < 0 || c.RefreshTimeout <= 0 || c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	if c.LeadTime > 5*time.Minute {
		return fmt.Errorf("%w: refresh lead time %v is above 5m", ErrInvalidConfig, c.LeadTime)
	}
	switch c.Store {
	case StoreFile, StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis store needs POS_REDIS_ADDR", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	return nil
}

// Logger returns a text logger on stderr at the configured level
func (c Config) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel}))
}

// Options returns the client options the settings describe
func (c Config) Options(logger *slog.Logger) []client.Option {
	return []client.Option{
		client.WithLogger(logger),
		client.WithEndpoints(c.Endpoints),
		client.WithLeadTime(c.LeadTime),
		client.WithRefreshTimeout(c.RefreshTimeout),
		client.WithHTTPClient(&http.Client{Timeout: c.HTTPTimeout}),
		client.WithVerifyOnRestore(c.VerifyOnRestore),
	}
}

// OpenStore builds the configured credential store. The returned close
// func releases any connection and is never nil.
func (c Config) OpenStore(logger *slog.Logger) (possession.CredentialStore, func() error, error) {
	noop := func() error { return nil }
	switch c.Store {
	case StoreMemory:
		return mem.New(), noop, nil
	case StoreRedis:
		rc := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		return redisstore.New(rc, c.RedisPrefix).WithLogger(logger), rc.Close, nil
	case StoreFile, "":
		file, err := fsstore.Open(c.StorePath, AppName)
		if err != nil {
			return nil, noop, err
		}
		store, err := file.WithLogger(logger).ForServer(c.BaseURL)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
	return nil, noop, fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
}
