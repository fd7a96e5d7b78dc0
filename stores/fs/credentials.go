// Package fs provides a file system-based credential store.
//
// One JSON file holds the sessions of every server the user has logged in
// to, keyed by normalized server URL. Each write replaces the whole file
// atomically with owner-only permissions.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/panyam/possession"
)

// File is the credentials file shared by all per-server stores
type File struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]entry
	logger   *slog.Logger
}

// entry keeps the two persisted keys as raw JSON so a corrupt entry can be
// detected on load without failing the whole file
type entry struct {
	Tokens json.RawMessage `json:"tokens"`
	User   json.RawMessage `json:"user,omitempty"`
}

// credentialFile is the JSON structure stored on disk
type credentialFile struct {
	Sessions map[string]entry `json:"sessions"`
}

// Open loads (or prepares) the credentials file.
// If path is empty, defaults to <user config dir>/<appName>/credentials.json
func Open(path string, appName string) (*File, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "possession"
		}
		path = filepath.Join(configDir, appName, "credentials.json")
	}

	f := &File{
		path:     path,
		sessions: make(map[string]entry),
		logger:   slog.Default(),
	}
	if err := f.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return f, nil
}

// WithLogger sets the logger used to report corrupt data
func (f *File) WithLogger(logger *slog.Logger) *File {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// load reads credentials from disk. An unparseable file is treated as empty.
func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		f.logger.Warn("ignoring unparseable credentials file", "path", f.path, "err", err)
		return nil
	}
	if file.Sessions != nil {
		f.sessions = file.Sessions
	}
	return nil
}

// flush writes the whole file. Caller must hold f.mu.
func (f *File) flush() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(credentialFile{Sessions: f.sessions}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	return writeAtomicFile(f.path, data)
}

// ForServer returns the credential store for one server
func (f *File) ForServer(serverURL string) (*CredentialStore, error) {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &CredentialStore{file: f, key: key}, nil
}

// ListServers returns all server URLs with stored sessions
func (f *File) ListServers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	servers := make([]string, 0, len(f.sessions))
	for k := range f.sessions {
		servers = append(servers, k)
	}
	sort.Strings(servers)
	return servers
}

// Path returns the path to the credentials file
func (f *File) Path() string {
	return f.path
}

// normalizeURL normalizes a server URL for use as a key
func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u, err = url.Parse("https://" + serverURL)
		if err != nil {
			return "", fmt.Errorf("invalid server URL: %w", err)
		}
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL: %q has no host", serverURL)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// CredentialStore is a possession.CredentialStore for one server's session
type CredentialStore struct {
	file *File
	key  string
}

var _ possession.CredentialStore = (*CredentialStore)(nil)

// Server returns the normalized server URL this store is keyed by
func (s *CredentialStore) Server() string { return s.key }

func (s *CredentialStore) Save(ctx context.Context, tokens possession.TokenPair, user *possession.UserProfile) error {
	tokensJSON, userJSON, err := possession.EncodeSession(tokens, user)
	if err != nil {
		return err
	}

	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	prev, had := s.file.sessions[s.key]
	s.file.sessions[s.key] = entry{Tokens: tokensJSON, User: userJSON}
	if err := s.file.flush(); err != nil {
		if had {
			s.file.sessions[s.key] = prev
		} else {
			delete(s.file.sessions, s.key)
		}
		return err
	}
	return nil
}

func (s *CredentialStore) Load(ctx context.Context) (*possession.StoredSession, error) {
	s.file.mu.RLock()
	e, ok := s.file.sessions[s.key]
	s.file.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	stored, err := possession.DecodeSession(e.Tokens, e.User)
	if err != nil {
		s.file.logger.Warn("ignoring corrupt stored session", "server", s.key, "err", err)
		return nil, nil
	}
	return stored, nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	if _, ok := s.file.sessions[s.key]; !ok {
		return nil
	}
	delete(s.file.sessions, s.key)
	return s.file.flush()
}

// writeAtomicFile writes data to a file atomically by writing to a temp file
// first. The temp file is created 0600 so the credentials are never readable
// by others, even briefly.
func writeAtomicFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
